package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/studio1767/dsarchive/internal/ops"
)

const (
	MimeType = "application/octet-stream"
	HashType = "sha1"
)

type keyValueJSON struct {
	DestinationTable string `json:"destinationTable"`
	Key              string `json:"key"`
	Value            string `json:"value"`
}

type transactionJSON struct {
	DestinationTable string `json:"destinationTable"`
	Value            string `json:"value"`
}

type fileJSON struct {
	DestinationTable  string `json:"destinationTable"`
	Name              string `json:"name"`
	AbsoluteLocalPath string `json:"absolutelocalpath"`
	Subdir            string `json:"subdir"`
	Size              int64  `json:"size"`
	Hashsum           string `json:"hashsum"`
	Mimetype          string `json:"mimetype"`
	Hashtype          string `json:"hashtype"`
	Ctime             string `json:"ctime"`
	Mtime             string `json:"mtime"`
}

// FormatTime renders a timestamp as ISO-8601 UTC with seconds precision.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Marshal serializes the manifest as a JSON array in item order.
func Marshal(items []Item) ([]byte, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case KeyValue:
			out = append(out, keyValueJSON{
				DestinationTable: it.destinationTable(),
				Key:              it.Key,
				Value:            it.Value,
			})
		case TransactionValue:
			out = append(out, transactionJSON{
				DestinationTable: it.destinationTable(),
				Value:            it.Value,
			})
		case FileEntry:
			out = append(out, fileJSON{
				DestinationTable:  it.destinationTable(),
				Name:              it.File.FileName,
				AbsoluteLocalPath: it.File.AbsolutePath,
				Subdir:            it.Subdir,
				Size:              it.File.Size,
				Hashsum:           it.File.Hash,
				Mimetype:          MimeType,
				Hashtype:          HashType,
				Ctime:             FormatTime(it.File.CTime),
				Mtime:             FormatTime(it.File.MTime),
			})
		default:
			return nil, fmt.Errorf("unknown manifest item %T", item)
		}
	}
	return json.Marshal(out)
}

// Unmarshal parses a manifest produced by Marshal.
func Unmarshal(data []byte) ([]Item, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(raw))
	for i, msg := range raw {
		var head struct {
			DestinationTable string `json:"destinationTable"`
		}
		if err := json.Unmarshal(msg, &head); err != nil {
			return nil, fmt.Errorf("manifest item %d: %w", i, err)
		}

		switch table := head.DestinationTable; {
		case table == "TransactionKeyValue":
			var kv keyValueJSON
			if err := json.Unmarshal(msg, &kv); err != nil {
				return nil, fmt.Errorf("manifest item %d: %w", i, err)
			}
			items = append(items, KeyValue{Key: kv.Key, Value: kv.Value})

		case strings.HasPrefix(table, "Transactions."):
			var tv transactionJSON
			if err := json.Unmarshal(msg, &tv); err != nil {
				return nil, fmt.Errorf("manifest item %d: %w", i, err)
			}
			items = append(items, TransactionValue{
				Table: strings.TrimPrefix(table, "Transactions."),
				Value: tv.Value,
			})

		case table == "Files":
			var f fileJSON
			if err := json.Unmarshal(msg, &f); err != nil {
				return nil, fmt.Errorf("manifest item %d: %w", i, err)
			}
			fe, err := f.entry()
			if err != nil {
				return nil, fmt.Errorf("manifest item %d: %w", i, err)
			}
			items = append(items, fe)

		default:
			return nil, fmt.Errorf("manifest item %d: unknown destination table %q", i, table)
		}
	}

	return items, nil
}

func (f fileJSON) entry() (FileEntry, error) {
	ctime, err := time.Parse(time.RFC3339, f.Ctime)
	if err != nil {
		return FileEntry{}, err
	}
	mtime, err := time.Parse(time.RFC3339, f.Mtime)
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{
		File: ops.FileRecord{
			AbsolutePath: f.AbsoluteLocalPath,
			RelativeDir:  relDirFromSubdir(f.Subdir),
			FileName:     f.Name,
			Hash:         f.Hashsum,
			Size:         f.Size,
			CTime:        ctime.UTC(),
			MTime:        mtime.UTC(),
		},
		Subdir: f.Subdir,
	}, nil
}
