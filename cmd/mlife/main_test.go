package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlife-core/platform/pkg/aggregation"
	"github.com/mlife-core/platform/pkg/common/config"
	"github.com/mlife-core/platform/pkg/storage"
)

const export = `Zeitraum;10.09.2025 11:53 - 30.09.2025 01:45;;;;
Fall-ID;Pat.-ID;Alter;Größe;Gewicht;Körperoberfläche
12345;987;54 J;180 cm;81 kg;2,01 m²
;;;;;
Labor: Blutgase arteriell;;
;10.09.2025 12:05;11.09.2025 06:05
PCO2 [mmHg];42;45
PH;7,35;7,41
Seite 1 von 1`

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cfg, err := config.LoadFrom(viper.New())
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := newRootCmd(cfg)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "panic"))
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestParseThenAggregate(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(in, []byte(export), 0o600))

	table := filepath.Join(dir, "canonical.csv.zst")
	execute(t, "parse", in, "-o", table)

	packed, err := os.ReadFile(table)
	require.NoError(t, err)
	assert.Equal(t, storage.CompressionZstd, storage.CompressionFor(table))
	raw, err := storage.Decompress(storage.CompressionZstd, packed)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "timestamp;source_type")
	assert.NotContains(t, string(raw), ";12345;")

	records := filepath.Join(dir, "records.json")
	execute(t, "aggregate", table, "--record-id", "101", "--instruments", "labor", "-o", records)

	data, err := os.ReadFile(records)
	require.NoError(t, err)
	var res aggregation.Result
	require.NoError(t, json.Unmarshal(data, &res))
	require.Len(t, res.Records, 2)
	assert.Equal(t, 1, res.Records[0].RepeatInstance)
	assert.Equal(t, 2, res.Records[1].RepeatInstance)
}

func TestAggregateRequiresRecordID(t *testing.T) {
	cfg, err := config.LoadFrom(viper.New())
	require.NoError(t, err)

	cmd := newRootCmd(cfg)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"aggregate", "missing.csv", "--log-level", "panic"})
	assert.Error(t, cmd.Execute())
}

func TestMappingDumpIsCheckable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.yaml")

	out := execute(t, "mapping", "dump")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o600))

	assert.Contains(t, execute(t, "mapping", "check", path), "ok: labor")
}
