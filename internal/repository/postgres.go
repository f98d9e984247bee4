package repository

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	postgresDefaultHost = "localhost"
	postgresDefaultPort = 5432
	postgresDefaultDB   = "kestrel"
)

// postgresDSN builds a lib/pq URL. Empty fields fall back to a local
// kestrel database without TLS.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = postgresDefaultHost
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = postgresDefaultPort
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = postgresDefaultDB
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + dbname,
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}

	q := url.Values{}
	q.Set("sslmode", sslmode)
	q.Set("application_name", "kestrel")
	u.RawQuery = q.Encode()

	return u.String()
}

func postgresTarget(cfg domain.RepositoryConfig) string {
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = postgresDefaultDB
	}
	return fmt.Sprintf("postgres database %s", dbname)
}
