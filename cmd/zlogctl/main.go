// Command zlogctl is a development CLI over the zlog backends: create,
// append, read, trim, and view.
package main

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edirooss/zlog/internal/backend/gcsbackend"
	"github.com/edirooss/zlog/internal/backend/membackend"
	"github.com/edirooss/zlog/internal/backend/redisbackend"
	"github.com/edirooss/zlog/internal/logservice"
	zlogcore "github.com/edirooss/zlog/internal/zlog"
	"github.com/edirooss/zlog/pkg/fmtt"
)

var (
	backendName string
	bucket      string
	redisAddr   string

	log *zap.Logger
	svc *logservice.Service
)

var rootCmd = &cobra.Command{
	Use:           "zlogctl",
	Short:         "zlog development CLI",
	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log = zap.NewNop()

		backend, err := buildBackend(cmd.Context())
		if err != nil {
			return fmt.Errorf("build backend: %w", err)
		}
		svc = logservice.New(log, backend, zlogcore.Config{})
		return nil
	},
}

func buildBackend(ctx context.Context) (zlogcore.Backend, error) {
	switch backendName {
	case "memory":
		return membackend.New(log), nil
	case "redis":
		client := redisbackend.NewClient(redisAddr, "", "", 0, log)
		return redisbackend.NewBackend(client), nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		return gcsbackend.New(client, bucket), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backendName)
	}
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "create a new log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := svc.CreateLog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return l.ProposeSequencer(cmd.Context())
	},
}

var appendCmd = &cobra.Command{
	Use:   "append <name> <bytes|->",
	Short: "append an entry; pass - to read the payload from stdin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := svc.OpenLog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := l.ProposeSequencer(cmd.Context()); err != nil {
			return err
		}

		data := []byte(args[1])
		if args[1] == "-" {
			data, err = readAllStdin()
			if err != nil {
				return err
			}
		}

		position, err := l.Append(cmd.Context(), data)
		if err != nil {
			return err
		}
		fmt.Println(position)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <name> <position>",
	Short: "read an entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := svc.OpenLog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		position, err := parseUint(args[1])
		if err != nil {
			return err
		}
		data, err := l.Read(cmd.Context(), position)
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		return nil
	},
}

var trimCmd = &cobra.Command{
	Use:   "trim <name> <position>",
	Short: "advance the log's minimum valid position",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := svc.OpenLog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		position, err := parseUint(args[1])
		if err != nil {
			return err
		}
		return l.Trim(cmd.Context(), position)
	},
}

var viewCmd = &cobra.Command{
	Use:   "view <name>",
	Short: "dump the log's current view as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := svc.OpenLog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		view, err := l.View(cmd.Context())
		if err != nil {
			return err
		}
		body, err := view.Serialize()
		if err != nil {
			return err
		}
		fmt.Printf("epoch: %d\n%s\n", view.Epoch, body)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "memory", "backend to use: memory, redis, gcs")
	rootCmd.PersistentFlags().StringVar(&bucket, "bucket", "", "gcs bucket (--backend=gcs)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address (--backend=redis)")
	rootCmd.AddCommand(createCmd, appendCmd, readCmd, trimCmd, viewCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmtt.PrintErrChain(err)
		os.Exit(1)
	}
}

func parseUint(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%d", &v)
	if err != nil {
		return 0, fmt.Errorf("%q: not a valid position: %w", s, err)
	}
	return v, nil
}

func readAllStdin() ([]byte, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	return buf, nil
}
