package main

import (
	"context"
	"fmt"

	"github.com/uschtwill/hermod-cdc/internal/capture"
	"github.com/uschtwill/hermod-cdc/internal/checkpoint"
	"github.com/uschtwill/hermod-cdc/internal/config"
	"github.com/uschtwill/hermod-cdc/internal/engine"
	"github.com/uschtwill/hermod-cdc/internal/target/mysql"
	"github.com/uschtwill/hermod-cdc/internal/target/oracle"
	"github.com/uschtwill/hermod-cdc/internal/transform"
	hermodcdc "github.com/uschtwill/hermod-cdc"
)

type pipeline struct {
	cfg        *config.Config
	conn       *capture.Conn
	checkpoint *checkpoint.Store
	engine     *engine.Engine
	logger     hermodcdc.Logger
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	logger := engine.NewLogger(cfg.LogLevel)

	tables := make([]string, 0, len(cfg.Mappings))
	for _, m := range cfg.Mappings {
		tables = append(tables, m.SourceTable)
	}

	conn, err := capture.Open(ctx, cfg.SourcePath, tables, logger)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	cp, err := checkpoint.Open(ctx, cfg.CheckpointPath)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	targets := make([]engine.Target, 0, len(cfg.Targets))
	mappings := make(map[string]transform.Mapping, len(cfg.Mappings))

	for _, m := range cfg.Mappings {
		fields := make([]transform.FieldMapping, 0, len(m.Fields))
		for _, f := range m.Fields {
			fields = append(fields, transform.FieldMapping{
				SourceField:  f.SourceField,
				TargetColumn: f.TargetColumn,
				Converter:    transform.ConverterType(f.Converter),
				Params:       f.Params,
			})
		}
		mappings[m.SourceTable] = transform.Mapping{
			SourceTable: m.SourceTable,
			TargetTable: m.TargetTable,
			PrimaryKey:  m.PrimaryKey,
			Fields:      fields,
		}
	}

	for _, tc := range cfg.Targets {
		var writer hermodcdc.TargetWriter
		switch tc.Kind {
		case "mysql":
			writer = mysql.New(tc.Name, tc.DSN)
		case "oracle":
			writer = oracle.New(tc.Name, tc.DSN)
		default:
			conn.Close()
			cp.Close()
			return nil, fmt.Errorf("target %s: unsupported kind %q", tc.Name, tc.Kind)
		}
		if err := writer.Connect(ctx); err != nil {
			conn.Close()
			cp.Close()
			return nil, fmt.Errorf("connect target %s: %w", tc.Name, err)
		}
		targets = append(targets, engine.Target{Writer: writer})
	}

	eng := engine.New(conn.DB(), cfg.SourcePath, cp, targets, mappings, logger, engine.Config{
		BatchSize: cfg.BatchSize,
	})

	return &pipeline{cfg: cfg, conn: conn, checkpoint: cp, engine: eng, logger: logger}, nil
}

func (p *pipeline) Close() {
	p.checkpoint.Close()
	p.conn.Close()
}
