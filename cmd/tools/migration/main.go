package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
create table if not exists services (
	name text primary key,
	artifact text not null,
	poll_interval interval not null,
	probe_kind text not null,
	probe_settings jsonb not null,
	probe_interval interval not null,
	required_successes int not null,
	validation_window interval not null,
	ready_timeout interval not null,
	drain_grace interval not null,
	failure_cooldown interval not null,
	created_at timestamptz not null
);

create table if not exists deployment_records (
	service text primary key,
	current_fingerprint text not null,
	candidate_fingerprint text not null,
	state text not null,
	last_transition timestamptz not null,
	last_failed text not null,
	fail_count int not null,
	cooldown_until timestamptz not null,
	poisoned text not null
);
`

func main() {
	ctx := context.Background()

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "user=postgres password=postgres host=127.0.0.1 port=5432 dbname=postgres sslmode=disable"
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, schema)
	if err != nil {
		panic(err)
	}
	fmt.Println("schema ready")
}
