package main

import (
	"database/sql"
	"fmt"
	"os"
	"os/user"
	"sync"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	host     string
	port     int
	count    int
	username string
	extended bool
)

var rootCmd = &cobra.Command{
	Use:          "pgwire-probe",
	Short:        "Query one or more pgwire servers through lib/pq",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() { _ = l.Sync() }()

		if username == "" {
			u, err := user.Current()
			if err != nil {
				return errors.Wrap(err, "current user")
			}
			username = u.Username
		}

		var wg sync.WaitGroup
		errs := make([]error, count)
		for i := 0; i < count; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = probe(l.With(zap.Int("port", port+i)), port+i)
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&host, "host", "localhost", "server host")
	flags.IntVarP(&port, "port", "p", 5432, "first port to connect to")
	flags.IntVarP(&count, "count", "c", 1, "number of servers on consecutive ports")
	flags.StringVarP(&username, "user", "U", "", "user name, defaults to the current user")
	flags.BoolVar(&extended, "extended", false, "use the extended query protocol")
}

func probe(l *zap.Logger, port int) error {
	url := fmt.Sprintf("user=%s dbname=test host=%s port=%d sslmode=disable", username, host, port)
	db, err := sql.Open("postgres", url)
	if err != nil {
		return err
	}
	defer db.Close()

	// The server encodes a result set in one format, so the extended query
	// selects only columns lib/pq reads as text.
	var rows *sql.Rows
	if extended {
		rows, err = db.Query("SELECT name, description, salary, joined, updated FROM users WHERE age > $1", 20)
	} else {
		rows, err = db.Query("SELECT * FROM users WHERE age > 20")
	}
	if err != nil {
		return errors.Wrapf(err, "query port %d", port)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		fields := make([]zap.Field, len(cols))
		for i, col := range cols {
			fields[i] = zap.Any(col, values[i])
		}
		l.Info("row", fields...)
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	l.Info("done", zap.Int("rows", n))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
