package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/listener"
	grpcserver "github.com/rzbill/flolog/internal/server/grpc"
	"github.com/rzbill/flolog/internal/stream"
	"github.com/spf13/cobra"
)

// printer is the listener behind `flo subscribe`. It prints one JSON line
// per record and cancels the subscription after limit records.
type printer struct {
	id     string
	enc    *json.Encoder
	limit  int
	cancel context.CancelFunc

	mu    sync.Mutex
	count int
	err   error
}

func (p *printer) ID() string { return p.id }

func (p *printer) OnNext(b listener.Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, entries := range b.Streams {
		for _, e := range entries {
			if p.limit > 0 && p.count >= p.limit {
				return
			}
			_ = p.enc.Encode(decodedPayload(map[string]any{
				"stream":  id.String(),
				"address": e.Timestamp.Global,
				"local":   e.Timestamp.Local,
				"epoch":   e.Timestamp.Epoch,
			}, e.Payload))
			p.count++
		}
	}
	if p.limit > 0 && p.count >= p.limit {
		p.cancel()
	}
}

func (p *printer) OnError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// NewSubscribeCommand constructs the `subscribe` command. It registers a
// listener on the node over gRPC and prints records as they commit.
func NewSubscribeCommand() *cobra.Command {
	subCmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Print records of tables as they are written",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns, _ := cmd.Flags().GetString("namespace")
			tables, _ := cmd.Flags().GetStringSlice("table")
			from, _ := cmd.Flags().GetUint64("from")
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			id, _ := cmd.Flags().GetString("id")
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			if id == "" {
				id = "cli-" + uuid.NewString()
			}

			var streams []uuid.UUID
			for _, t := range tables {
				tns, tbl, ok := strings.Cut(t, "/")
				if !ok {
					tns, tbl = ns, t
				}
				streams = append(streams, stream.TableID(tns, tbl))
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			p := &printer{id: id, enc: json.NewEncoder(cmd.OutOrStdout()), limit: limit, cancel: cancel}
			err := withNode(func(c *grpcserver.Client) error {
				return c.Subscribe(ctx, grpcserver.SubscribeRequest{ID: id, Streams: streams, From: from, Filter: filter}, p)
			})
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.limit > 0 && p.count >= p.limit && errors.Is(err, context.Canceled) {
				err = nil
			}
			if err != nil {
				return err
			}
			return p.err
		},
	}
	subCmd.Flags().StringP("namespace", "n", "default", "Namespace for tables given without one")
	subCmd.Flags().StringSlice("table", nil, "Tables to follow, as name or ns/name (default: every stream)")
	subCmd.Flags().Uint64("from", 0, "First log address to examine")
	subCmd.Flags().String("filter", "", "CEL filter (server-side) over stream, epoch, global, local, size, text, json")
	subCmd.Flags().Int("limit", 0, "Stop after N records (0 = infinite)")
	subCmd.Flags().String("id", "", "Subscriber ID (default generated)")
	return subCmd
}
