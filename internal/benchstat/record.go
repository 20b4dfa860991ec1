// Package benchstat defines the summary record an external load-test
// harness (spec.md §6, exit codes 0-3) reports after a run against
// this server, and its wire encoding. No benchmarking client lives
// here — only the shared record schema both sides agree on.
package benchstat

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ExitCode mirrors the harness's documented exit-code contract.
type ExitCode int32

const (
	// ExitOK means every connection attempted completed successfully.
	ExitOK ExitCode = 0
	// ExitPartial means some requests failed but the run completed.
	ExitPartial ExitCode = 1
	// ExitConnRefused means the server never accepted a connection.
	ExitConnRefused ExitCode = 2
	// ExitTimeout means the run itself timed out before completing.
	ExitTimeout ExitCode = 3
)

// Summary is one load-test run's result.
type Summary struct {
	ConnectionsAttempted uint64
	RequestsCompleted    uint64
	ErrorsByExitCode     map[ExitCode]uint64
}

// Field tags for the wire encoding below. Kept stable across versions
// since a harness and server built from different commits must still
// be able to exchange a Summary.
const (
	fieldConnectionsAttempted = 1
	fieldRequestsCompleted    = 2
	fieldErrorEntry           = 3 // repeated, each a nested (code, count) message
)

const (
	errorEntryFieldCode  = 1
	errorEntryFieldCount = 2
)

// Marshal hand-encodes Summary using protobuf's wire format via
// protowire, since no protoc invocation is available to generate a
// .pb.go type for this record.
func Marshal(s *Summary) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldConnectionsAttempted, protowire.VarintType)
	buf = protowire.AppendVarint(buf, s.ConnectionsAttempted)
	buf = protowire.AppendTag(buf, fieldRequestsCompleted, protowire.VarintType)
	buf = protowire.AppendVarint(buf, s.RequestsCompleted)

	for code, count := range s.ErrorsByExitCode {
		var entry []byte
		entry = protowire.AppendTag(entry, errorEntryFieldCode, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(int64(code)))
		entry = protowire.AppendTag(entry, errorEntryFieldCount, protowire.VarintType)
		entry = protowire.AppendVarint(entry, count)

		buf = protowire.AppendTag(buf, fieldErrorEntry, protowire.BytesType)
		buf = protowire.AppendBytes(buf, entry)
	}
	return buf
}

// Unmarshal decodes a Summary produced by Marshal.
func Unmarshal(data []byte) (*Summary, error) {
	s := &Summary{ErrorsByExitCode: map[ExitCode]uint64{}}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("benchstat: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldConnectionsAttempted:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("benchstat: connections_attempted: %w", protowire.ParseError(n))
			}
			s.ConnectionsAttempted = v
			data = data[n:]
		case fieldRequestsCompleted:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("benchstat: requests_completed: %w", protowire.ParseError(n))
			}
			s.RequestsCompleted = v
			data = data[n:]
		case fieldErrorEntry:
			entry, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("benchstat: error entry: %w", protowire.ParseError(n))
			}
			data = data[n:]
			code, count, err := decodeErrorEntry(entry)
			if err != nil {
				return nil, err
			}
			s.ErrorsByExitCode[code] = count
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("benchstat: skipping field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return s, nil
}

func decodeErrorEntry(data []byte) (ExitCode, uint64, error) {
	var code ExitCode
	var count uint64
	for len(data) > 0 {
		num, _, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, 0, fmt.Errorf("benchstat: error entry tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return 0, 0, fmt.Errorf("benchstat: error entry value: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case errorEntryFieldCode:
			code = ExitCode(int32(v))
		case errorEntryFieldCount:
			count = v
		}
	}
	return code, count, nil
}
