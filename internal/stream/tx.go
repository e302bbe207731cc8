package stream

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/eventlog"
)

// AppendTx writes one log entry belonging to every stream in records at a
// single global address. Readers of each stream see their own payload;
// listeners receive the whole entry as one batch.
func AppendTx(ctx context.Context, env Env, records map[uuid.UUID][]byte) (map[uuid.UUID]eventlog.Timestamp, error) {
	if err := env.init(); err != nil {
		return nil, err
	}
	return appendRecords(ctx, &env, records)
}

func appendRecords(ctx context.Context, env *Env, records map[uuid.UUID][]byte) (map[uuid.UUID]eventlog.Timestamp, error) {
	if len(records) == 0 {
		return nil, errors.New("stream: empty append")
	}
	ids := make([]uuid.UUID, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	tok, err := env.Sequencer.Next(ctx, env.Epoch(), ids...)
	if err != nil {
		return nil, err
	}
	e := eventlog.Entry{Epoch: tok.Epoch, Type: eventlog.EntryData, Records: make([]eventlog.Record, 0, len(ids))}
	for _, id := range ids {
		e.Records = append(e.Records, eventlog.Record{Stream: id, Seq: tok.Locals[id], Payload: records[id]})
	}
	if err := env.Log.Write(ctx, tok.Global, e); err != nil {
		// The reserved address stays unwritten; readers fill it with a hole.
		return nil, err
	}

	out := make(map[uuid.UUID]eventlog.Timestamp, len(ids))
	for _, id := range ids {
		out[id] = tok.Timestamp(id)
	}
	return out, nil
}
