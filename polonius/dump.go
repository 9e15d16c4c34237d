package polonius

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	factsSuffix  = ".facts"
	outputName   = "output.msgpack"
	s2Suffix     = ".s2"
	dumpFileMode = 0o644
)

// Dumper writes fact sets and solver output for offline inspection. The
// files are never read back by the analysis.
type Dumper struct {
	Dir string
	// Compress wraps every file in an s2 stream and appends ".s2" to its
	// name.
	Compress bool
}

func (d Dumper) create(name string) (io.WriteCloser, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return nil, err
	}
	if d.Compress {
		name += s2Suffix
	}
	f, err := os.OpenFile(filepath.Join(d.Dir, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, dumpFileMode)
	if err != nil {
		return nil, err
	}
	if !d.Compress {
		return f, nil
	}
	return &s2File{Writer: s2.NewWriter(f), f: f}, nil
}

type s2File struct {
	*s2.Writer
	f *os.File
}

func (w *s2File) Close() error {
	if err := w.Writer.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// RenderAtom formats one atom of the given kind. Points are rendered with
// their location when maps is non-nil.
func RenderAtom(maps *AtomMaps, kind AtomKind, v uint32) string {
	switch kind {
	case KindOrigin:
		return Origin(v).String()
	case KindLoan:
		return Loan(v).String()
	case KindPoint:
		if maps != nil && int(v) < maps.NumPoints() {
			return maps.PointKey(Point(v)).String()
		}
		return fmt.Sprintf("p%d", v)
	case KindVariable:
		return Variable(v).String()
	default:
		if maps != nil && int(v) < maps.NumPaths() {
			return maps.PathPlace(Path(v)).String()
		}
		return Path(v).String()
	}
}

// DumpFacts writes each relation to <relation>.facts, one tab separated,
// quoted tuple per line.
func (d Dumper) DumpFacts(facts *AllFacts, maps *AtomMaps) error {
	for _, rel := range facts.Relations() {
		if err := d.dumpRelation(rel, maps); err != nil {
			return fmt.Errorf("dump %s: %w", rel.Name, err)
		}
	}
	return nil
}

func (d Dumper) dumpRelation(rel Relation, maps *AtomMaps) error {
	w, err := d.create(rel.Name + factsSuffix)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for _, row := range rel.Rows {
		cols := make([]string, len(row))
		for i, v := range row {
			cols[i] = fmt.Sprintf("%q", RenderAtom(maps, rel.Columns[i], v))
		}
		if _, err := bw.WriteString(strings.Join(cols, "\t") + "\n"); err != nil {
			w.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// DumpOutput writes the solver output as msgpack.
func (d Dumper) DumpOutput(out *Output) error {
	w, err := d.create(outputName)
	if err != nil {
		return err
	}
	if err := msgpack.NewEncoder(w).Encode(out); err != nil {
		w.Close()
		return fmt.Errorf("encode output: %w", err)
	}
	return w.Close()
}

// LoadOutput reads an output written by DumpOutput from dir.
func LoadOutput(dir string) (*Output, error) {
	path := filepath.Join(dir, outputName)
	compressed := false
	if _, err := os.Stat(path); err != nil {
		if _, err2 := os.Stat(path + s2Suffix); err2 != nil {
			return nil, err
		}
		path += s2Suffix
		compressed = true
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		r = s2.NewReader(f)
	}

	out := new(Output)
	if err := msgpack.NewDecoder(r).Decode(out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}
