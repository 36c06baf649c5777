// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command chunkstored decodes one or more RRD streams from the given
// data sources into in-process stores, logs every control message and
// ingested chunk, and optionally runs a GC pass before exiting. It
// deliberately stops at the framing layer: serving the stores over
// gRPC/HTTP is a job for a separate edge, not this command.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sneller-labs/chunkstore/rrd"
	"github.com/sneller-labs/chunkstore/store"
	"github.com/sneller-labs/chunkstore/storeid"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML chunkstored config file")
	policyFlag := flag.String("decode-policy", "strict", "strict|warn (version-mismatch handling)")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("chunkstored: %v", err)
	}

	policy := rrd.Strict
	if *policyFlag == "warn" {
		policy = rrd.WarnOnVersionMismatch
	}

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"-"}
	}

	stores := make(map[storeid.ID]*store.Store)
	for _, uri := range args {
		if err := ingest(uri, policy, cfg, stores); err != nil {
			fmt.Fprintf(os.Stderr, "chunkstored: %s: %v\n", uri, err)
			os.Exit(1)
		}
	}

	if cfg.GC != nil {
		for sid, s := range stores {
			events := s.GC(cfg.GC.toOptions(log.Printf))
			log.Printf("chunkstored: store %s: gc evicted %d chunk(s)", sid, len(events))
		}
	}

	for sid, s := range stores {
		log.Printf("chunkstored: store %s: %d chunk(s) resident", sid, s.Len())
	}
}

// ingest decodes the RRD streams read from uri and routes every
// message into the store named by its StoreID, logging control
// messages and recoverable decode errors along the way; codec errors
// are never fatal to the rest of the stream.
func ingest(uri string, policy rrd.Policy, cfg Config, stores map[storeid.ID]*store.Store) error {
	src, err := openSource(uri)
	if err != nil {
		return err
	}
	defer src.Close()

	results, err := rrd.DecodeAll(src, policy)
	if err != nil {
		return fmt.Errorf("decoding stream: %w", err)
	}

	for _, r := range results {
		if r.Err != nil {
			log.Printf("chunkstored: %s: recoverable decode error: %v", uri, r.Err)
			continue
		}
		switch m := r.Msg.(type) {
		case rrd.BeginRecording:
			log.Printf("chunkstored: %s: begin recording store=%s app=%q source=%q",
				uri, m.StoreID, m.ApplicationID, m.Source)
			storeFor(stores, m.StoreID, cfg)
		case rrd.BlueprintActivation:
			log.Printf("chunkstored: %s: blueprint activation store=%s", uri, m.StoreID)
		case rrd.SetStoreInfo:
			log.Printf("chunkstored: %s: set store info store=%s keys=%d", uri, m.StoreID, len(m.Info))
		case rrd.EntityPathOp:
			log.Printf("chunkstored: %s: deprecated entity path op store=%s path=%s op=%s",
				uri, m.StoreID, m.Path, m.Op)
		case rrd.ArrowChunk:
			s := storeFor(stores, m.StoreID, cfg)
			events := s.Insert(m.Chunk)
			log.Printf("chunkstored: %s: inserted chunk %s (entity=%s rows=%d) -> %d event(s)",
				uri, m.Chunk.ID, m.Chunk.EntityPath, m.Chunk.RowCount(), len(events))
		default:
			log.Printf("chunkstored: %s: unhandled message type %T", uri, m)
		}
	}
	return nil
}

func storeFor(stores map[storeid.ID]*store.Store, id storeid.ID, cfg Config) *store.Store {
	if s, ok := stores[id]; ok {
		return s
	}
	s := store.New(id, cfg.Store)
	stores[id] = s
	return s
}
