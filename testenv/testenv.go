package main

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/buzkaaclicker/profiles/persistent"
	"github.com/ory/dockertest"
	"github.com/ory/dockertest/docker"
	"github.com/sirupsen/logrus"
)

// inspiration: https://stackoverflow.com/a/64222654 (by brpaz)

const (
	minioAccessKey = "profiles-test"
	minioBucket    = "profiles-test-bucket"
)

func main() {
	flag.Parse()

	pool, err := dockertest.NewPool("")
	if err != nil {
		logrus.WithError(err).Fatalln("Could not connect to docker.")
	}
	pool.MaxWait = 30 * time.Second

	logrus.Println("Starting postgres db container")
	shutdownPgDb, err := createTestPgDb(pool)
	if err != nil {
		logrus.WithError(err).Fatalln("Could not create test database.")
	}
	logrus.Println("Starting minio container")
	shutdownMinio, err := createTestMinio(pool)
	if err != nil {
		shutdownPgDb()
		logrus.WithError(err).Fatalln("Could not create test object storage.")
	}

	path := "./..."
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	logrus.WithField("path", path).Println("Running tests...")
	runTests(path)

	logrus.Println("Tests done. Shutting down test containers.")
	shutdownMinio()
	shutdownPgDb()
}

func runTests(path string) {
	c := exec.Command("go", "test", path)
	c.Env = os.Environ()
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Start(); err != nil {
		logrus.WithError(err).Errorln("Could not run test command")
		return
	}
	if err := c.Wait(); err != nil {
		logrus.WithError(err).Errorln("Could not wait on test command")
		return
	}
}

func randomSecret() (string, error) {
	b := make([]byte, 30)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("secret generate: %w", err)
	}
	return base32.StdEncoding.EncodeToString(b), nil
}

func startContainer(pool *dockertest.Pool, opts *dockertest.RunOptions) (*dockertest.Resource, func(), error) {
	resource, err := pool.RunWithOptions(opts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("resource start: %w", err)
	}
	resource.Expire(120)
	shutdown := func() {
		if err := pool.Purge(resource); err != nil {
			logrus.WithError(err).Warningln("Could not purge resource.")
		}
	}
	return resource, shutdown, nil
}

// Start postgres docker container, create the schema and export its dsn
// for persistent.PgOpenTest.
func createTestPgDb(pool *dockertest.Pool) (func(), error) {
	psgPass, err := randomSecret()
	if err != nil {
		return nil, err
	}
	resource, shutdown, err := startContainer(pool, &dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16",
		Env:        []string{"POSTGRES_PASSWORD=" + psgPass},
	})
	if err != nil {
		return nil, err
	}

	var pgDsn string
	err = pool.Retry(func() error {
		pgDsn = fmt.Sprintf("postgresql://postgres:%s@localhost:%s/postgres?sslmode=disable",
			psgPass, resource.GetPort("5432/tcp"))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		db, err := persistent.Open(ctx, pgDsn)
		if err != nil {
			return err
		}
		defer db.Close()
		return persistent.CreateSchema(ctx, db)
	})
	if err != nil {
		shutdown()
		return nil, fmt.Errorf("database connect: %w", err)
	}

	persistent.SetTestEnvDsn(pgDsn)
	return shutdown, nil
}

// Start minio docker container and export its credentials for the
// objstore integration tests.
func createTestMinio(pool *dockertest.Pool) (func(), error) {
	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	resource, shutdown, err := startContainer(pool, &dockertest.RunOptions{
		Repository: "minio/minio",
		Tag:        "latest",
		Cmd:        []string{"server", "/data"},
		Env: []string{
			"MINIO_ROOT_USER=" + minioAccessKey,
			"MINIO_ROOT_PASSWORD=" + secret,
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := "localhost:" + resource.GetPort("9000/tcp")
	err = pool.Retry(func() error {
		resp, err := http.Get("http://" + endpoint + "/minio/health/live")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("minio not ready: %s", resp.Status)
		}
		return nil
	})
	if err != nil {
		shutdown()
		return nil, fmt.Errorf("minio connect: %w", err)
	}

	os.Setenv("MINIO_TEST_ENDPOINT", endpoint)
	os.Setenv("MINIO_TEST_ACCESS_KEY", minioAccessKey)
	os.Setenv("MINIO_TEST_SECRET_KEY", secret)
	os.Setenv("MINIO_TEST_BUCKET", minioBucket)
	return shutdown, nil
}
