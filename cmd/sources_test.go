package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/smazurov/returnfeed/internal/frame"
)

func TestPrintSourcesTable(t *testing.T) {
	var buf bytes.Buffer
	list := []frame.SourceHandle{
		{Name: "STUDIO", Address: "srt://studio:9000"},
		{Name: "BARS", Address: "pattern://UYVY"},
	}
	if err := printSources(&buf, list, false); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "NAME") || !strings.Contains(lines[1], "srt://studio:9000") {
		t.Errorf("table = %q", buf.String())
	}
}

func TestPrintSourcesJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printSources(&buf, nil, true); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty json = %q", buf.String())
	}

	buf.Reset()
	if err := printSources(&buf, []frame.SourceHandle{{Name: "A", Address: "a"}}, true); err != nil {
		t.Fatal(err)
	}
	var got []frame.SourceHandle
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Address != "a" {
		t.Errorf("decoded = %+v", got)
	}
}

func TestSourcesCommandReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sources.toml"
	content := "[[sources]]\nname = \"CAM1\"\naddress = \"srt://cam1:9000\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := CreateSourcesCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", dir + "/missing.toml", "--sources-file", path})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "CAM1") {
		t.Errorf("output = %q", out.String())
	}
}
