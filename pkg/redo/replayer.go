package redo

import (
	"io"
	"os"

	"github.com/icza/backscanner"
)

// TailReplayer drives a Visitor over a text log file, finding the most
// recent "reset" record by scanning backward from the end of the file and
// then replaying forward from there. Grounded in the teacher's
// RecoveryManager.getRelevantStrings/readLogs, which does the same
// backward-scan-for-the-last-checkpoint-then-replay-forward walk using
// github.com/icza/backscanner; generalized here from a hardcoded
// "checkpoint"/"start" byte search to the full sixteen-kind Record set.
type TailReplayer struct {
	path string
}

// NewTailReplayer returns a replayer over the log file at path.
func NewTailReplayer(path string) *TailReplayer {
	return &TailReplayer{path: path}
}

// Replay drives v.Reset, then every record from the most recent reset
// record (or the start of the file, if none) through to the end, in
// forward order, and finally v.Close.
func (r *TailReplayer) Replay(v Visitor) error {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	tail, err := r.tailFromLastReset(f)
	if err != nil {
		return err
	}

	if err := v.Reset(); err != nil {
		return err
	}
	for _, line := range tail {
		rec, err := parseRecord(line)
		if err != nil {
			return err
		}
		if err := Apply(v, rec); err != nil {
			return err
		}
	}
	return v.Close()
}

// tailFromLastReset scans f backward and returns, in forward order, every
// line from (and including) the most recent "reset" record to the end of
// the file. If no reset record exists, it returns every line in the file.
// Empty lines (such as the one after the file's final newline) are skipped.
func (r *TailReplayer) tailFromLastReset(f *os.File) ([]string, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	scanner := backscanner.New(f, int(info.Size()))
	var tail []string
	for {
		line, _, err := scanner.LineBytes()
		if err != nil {
			if err == io.EOF {
				return tail, nil
			}
			return nil, err
		}
		if len(line) == 0 {
			continue
		}
		s := string(line)
		tail = append([]string{s}, tail...)
		if resetExp.MatchString(s) {
			return tail, nil
		}
	}
}
