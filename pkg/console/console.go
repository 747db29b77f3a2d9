// Package console wires an engine.Engine into a repl.REPL, the interactive
// command set cmd/pagetreectl and cmd/pagetree-bench both run. Grounded in
// the teacher's database.DatabaseRepl, generalized from dinodb's
// create/insert/select/delete-by-int64-key commands to pagetree's named
// trees and opaque byte keys/values (hex-encoded on the command line, since
// a REPL line is whitespace-delimited text and values may contain anything).
package console

import (
	"encoding/hex"
	"fmt"
	"strings"

	"pagetree/pkg/engine"
	"pagetree/pkg/repl"
)

// New builds a REPL exposing e's trees: create and list trees,
// put/update/get/delete/scan entries within one, and take a checkpoint.
func New(e *engine.Engine) *repl.REPL {
	r := repl.New()

	r.Add("create", cmdCreate(e), "create <name> -- create a new empty tree")
	r.Add("trees", cmdTrees(e), "trees -- list every open tree")
	r.Add("put", cmdPut(e), "put <tree> <hex key> <hex value> -- insert a new entry")
	r.Add("update", cmdUpdate(e), "update <tree> <hex key> <hex value> -- overwrite an existing entry")
	r.Add("get", cmdGet(e), "get <tree> <hex key> -- look up an entry")
	r.Add("delete", cmdDelete(e), "delete <tree> <hex key> -- remove an entry")
	r.Add("scan", cmdScan(e), "scan <tree> [limit] -- list entries from the smallest key")
	r.Add("checkpoint", cmdCheckpoint(e), "checkpoint <label> -- flush and snapshot the engine")
	return r
}

func cmdCreate(e *engine.Engine) repl.Command {
	return func(line string, _ *repl.Config) (string, error) {
		args := strings.Fields(line)
		if len(args) != 2 {
			return "", fmt.Errorf("usage: create <name>")
		}
		if _, err := e.CreateTree(args[1]); err != nil {
			return "", err
		}
		return fmt.Sprintf("created %s", args[1]), nil
	}
}

func cmdTrees(e *engine.Engine) repl.Command {
	return func(line string, _ *repl.Config) (string, error) {
		trees := e.Trees()
		names := make([]string, 0, len(trees))
		for name := range trees {
			names = append(names, name)
		}
		return strings.Join(names, "\n"), nil
	}
}

func cmdPut(e *engine.Engine) repl.Command {
	return func(line string, _ *repl.Config) (string, error) {
		args := strings.Fields(line)
		if len(args) != 4 {
			return "", fmt.Errorf("usage: put <tree> <hex key> <hex value>")
		}
		t, err := e.Tree(args[1])
		if err != nil {
			return "", err
		}
		key, value, err := decodeKV(args[2], args[3])
		if err != nil {
			return "", err
		}
		if err := t.Insert(key, value); err != nil {
			return "", err
		}
		return "ok", nil
	}
}

func cmdUpdate(e *engine.Engine) repl.Command {
	return func(line string, _ *repl.Config) (string, error) {
		args := strings.Fields(line)
		if len(args) != 4 {
			return "", fmt.Errorf("usage: update <tree> <hex key> <hex value>")
		}
		t, err := e.Tree(args[1])
		if err != nil {
			return "", err
		}
		key, value, err := decodeKV(args[2], args[3])
		if err != nil {
			return "", err
		}
		if err := t.Update(key, value); err != nil {
			return "", err
		}
		return "ok", nil
	}
}

func cmdGet(e *engine.Engine) repl.Command {
	return func(line string, _ *repl.Config) (string, error) {
		args := strings.Fields(line)
		if len(args) != 3 {
			return "", fmt.Errorf("usage: get <tree> <hex key>")
		}
		t, err := e.Tree(args[1])
		if err != nil {
			return "", err
		}
		key, err := hex.DecodeString(args[2])
		if err != nil {
			return "", fmt.Errorf("bad hex key: %w", err)
		}
		value, err := t.Find(key)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(value), nil
	}
}

func cmdDelete(e *engine.Engine) repl.Command {
	return func(line string, _ *repl.Config) (string, error) {
		args := strings.Fields(line)
		if len(args) != 3 {
			return "", fmt.Errorf("usage: delete <tree> <hex key>")
		}
		t, err := e.Tree(args[1])
		if err != nil {
			return "", err
		}
		key, err := hex.DecodeString(args[2])
		if err != nil {
			return "", fmt.Errorf("bad hex key: %w", err)
		}
		if err := t.Delete(key); err != nil {
			return "", err
		}
		return "ok", nil
	}
}

func cmdScan(e *engine.Engine) repl.Command {
	return func(line string, _ *repl.Config) (string, error) {
		args := strings.Fields(line)
		if len(args) < 2 {
			return "", fmt.Errorf("usage: scan <tree> [limit]")
		}
		t, err := e.Tree(args[1])
		if err != nil {
			return "", err
		}
		limit := 100
		if len(args) == 3 {
			n, err := fmt.Sscanf(args[2], "%d", &limit)
			if err != nil || n != 1 {
				return "", fmt.Errorf("bad limit %q", args[2])
			}
		}

		cur, err := t.First()
		if err != nil {
			return "", err
		}
		defer cur.Close()

		var sb strings.Builder
		for i := 0; i < limit; i++ {
			pair, err := cur.Pair()
			if err != nil {
				break
			}
			fmt.Fprintf(&sb, "%s = %s\n", hex.EncodeToString(pair.Key), hex.EncodeToString(pair.Value))
			if cur.Next() != nil {
				break
			}
		}
		return sb.String(), nil
	}
}

func cmdCheckpoint(e *engine.Engine) repl.Command {
	return func(line string, _ *repl.Config) (string, error) {
		args := strings.Fields(line)
		if len(args) != 2 {
			return "", fmt.Errorf("usage: checkpoint <label>")
		}
		if err := e.Checkpoint(args[1]); err != nil {
			return "", err
		}
		return "checkpointed " + args[1], nil
	}
}

func decodeKV(keyHex, valueHex string) ([]byte, []byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("bad hex key: %w", err)
	}
	value, err := hex.DecodeString(valueHex)
	if err != nil {
		return nil, nil, fmt.Errorf("bad hex value: %w", err)
	}
	return key, value, nil
}
