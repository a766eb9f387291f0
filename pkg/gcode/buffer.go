// Package gcode implements the bucketed G-code buffer: a FIFO of bounded
// byte chunks with chunk-append consistency checks, comment stripping, and
// newline normalization. Grounded on
// _examples/original_source/src/drivers/GCodeBuffer.cpp.
package gcode

import "strings"

// Default sizes, matching GCodeBuffer::MAX_BUCKET_SIZE /
// GCodeBuffer::MAX_BUFFER_SIZE / GCodeBuffer::BUFFER_SPLIT_SIZE in
// original_source.
const (
	DefaultMaxBucketSize = 1024 * 50       // 50 KiB
	DefaultMaxBufferSize = 1024 * 1024 * 3 // 3 MiB
	DefaultSplitSize     = 1024 * 8        // 8 KiB
)

// SetResult is the outcome of a set/append call, GSR_* in original_source.
type SetResult int

const (
	ResultOk SetResult = iota
	ResultBufferFull
	ResultSeqNumMissing
	ResultSeqNumMismatch
	ResultSeqTtlMissing
	ResultSeqTtlMismatch
	ResultSrcMissing
	ResultSrcMismatch
)

var resultNames = [...]string{
	"ok",
	"buffer_full",
	"seq_num_missing",
	"seq_num_mismatch",
	"seq_ttl_missing",
	"seq_ttl_mismatch",
	"seq_src_missing",
	"seq_src_mismatch",
}

// String returns the exact symbolic name used on the wire (GcodeAddFailed
// reply argument).
func (r SetResult) String() string {
	if int(r) < 0 || int(r) >= len(resultNames) {
		return "unknown"
	}
	return resultNames[r]
}

// Meta carries the optional sequence/source metadata accompanying an append.
type Meta struct {
	SeqNumber *int32
	SeqTotal  *int32
	Source    *string
}

// Buffer is the bucketed G-code FIFO.
type Buffer struct {
	maxBufferSize int
	maxBucketSize int
	splitSize     int
	keepMacro     bool

	buckets [][]byte

	bufferSize    int
	bufferedLines int
	totalLines    int
	currentLine   int

	seqEstablished bool
	lastSeqNumber  int32

	seqTotalEstablished bool
	seqTotalFrozen      int32

	sourceEstablished bool
	sourceFrozen      string
}

// Option configures a new Buffer.
type Option func(*Buffer)

// WithMaxBufferSize overrides DefaultMaxBufferSize.
func WithMaxBufferSize(n int) Option { return func(b *Buffer) { b.maxBufferSize = n } }

// WithMaxBucketSize overrides DefaultMaxBucketSize.
func WithMaxBucketSize(n int) Option { return func(b *Buffer) { b.maxBucketSize = n } }

// WithSplitSize overrides DefaultSplitSize.
func WithSplitSize(n int) Option { return func(b *Buffer) { b.splitSize = n } }

// WithKeepMacroComments preserves ";@..." macro comments instead of
// stripping them, matching MakerbotDriver's setKeepGpxMacroComments(true).
func WithKeepMacroComments() Option { return func(b *Buffer) { b.keepMacro = true } }

// New creates an empty Buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		maxBufferSize: DefaultMaxBufferSize,
		maxBucketSize: DefaultMaxBucketSize,
		splitSize:     DefaultSplitSize,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Set clears the buffer then appends text with meta.
func (b *Buffer) Set(text string, meta *Meta) SetResult {
	b.Clear()
	return b.Append(text, meta)
}

// Append validates meta, enforces capacity, splits text into chunks, and
// cleans each chunk in place. See spec §4.2 for the exact rule ordering.
func (b *Buffer) Append(text string, meta *Meta) SetResult {
	if r := b.validateMeta(meta); r != ResultOk {
		return r
	}
	if b.bufferSize+len(text) > b.maxBufferSize {
		return ResultBufferFull
	}

	for _, chunk := range splitChunks(text, b.splitSize) {
		b.appendChunk(chunk)
	}

	if meta != nil {
		if meta.SeqNumber != nil {
			b.seqEstablished = true
			b.lastSeqNumber = *meta.SeqNumber
		}
		if meta.SeqTotal != nil {
			b.seqTotalEstablished = true
			b.seqTotalFrozen = *meta.SeqTotal
		}
		if meta.Source != nil {
			b.sourceEstablished = true
			b.sourceFrozen = *meta.Source
		}
	}
	return ResultOk
}

func (b *Buffer) validateMeta(meta *Meta) SetResult {
	var seqNumber, seqTotal *int32
	var source *string
	if meta != nil {
		seqNumber, seqTotal, source = meta.SeqNumber, meta.SeqTotal, meta.Source
	}

	if b.seqEstablished {
		if seqNumber == nil {
			return ResultSeqNumMissing
		}
		if *seqNumber != b.lastSeqNumber+1 {
			return ResultSeqNumMismatch
		}
	}
	if b.seqTotalEstablished {
		if seqTotal == nil {
			return ResultSeqTtlMissing
		}
		if *seqTotal != b.seqTotalFrozen {
			return ResultSeqTtlMismatch
		}
	}
	if seqNumber != nil && seqTotal != nil && *seqNumber+1 > *seqTotal {
		return ResultSeqNumMismatch
	}
	if b.sourceEstablished {
		if source == nil {
			return ResultSrcMissing
		}
		if *source != b.sourceFrozen {
			return ResultSrcMismatch
		}
	}
	return ResultOk
}

// Clear drops all buckets, zeros counters, and clears frozen meta.
func (b *Buffer) Clear() {
	b.buckets = nil
	b.bufferSize = 0
	b.bufferedLines = 0
	b.totalLines = 0
	b.currentLine = 0
	b.seqEstablished = false
	b.seqTotalEstablished = false
	b.sourceEstablished = false
}

// GetNextLine returns up to amount lines from the front bucket only (does
// not span buckets), and the number of lines actually returned.
func (b *Buffer) GetNextLine(amount int) (string, int) {
	if len(b.buckets) == 0 || amount <= 0 {
		return "", 0
	}
	front := b.buckets[0]
	end := 0
	count := 0
	for count < amount {
		idx := indexByteFrom(front, end, '\n')
		if idx == -1 {
			if end < len(front) {
				end = len(front)
				count++
			}
			break
		}
		end = idx + 1
		count++
	}
	return string(front[:end]), count
}

// EraseLine removes up to amount lines from the front bucket only and
// returns the number actually erased. Drops the bucket if it becomes empty.
func (b *Buffer) EraseLine(amount int) int {
	if len(b.buckets) == 0 || amount <= 0 {
		return 0
	}
	front := b.buckets[0]
	end := 0
	count := 0
	for count < amount {
		idx := indexByteFrom(front, end, '\n')
		if idx == -1 {
			if end < len(front) {
				end = len(front)
				count++
			}
			break
		}
		end = idx + 1
		count++
	}
	if end > 0 {
		b.bufferSize -= end
		remainder := front[end:]
		if len(remainder) == 0 {
			b.buckets = b.buckets[1:]
		} else {
			b.buckets[0] = append([]byte{}, remainder...)
		}
	}
	b.bufferedLines -= count
	if b.bufferedLines < 0 {
		b.bufferedLines = 0
	}
	return count
}

// SetCurrentLine sets currentLine = min(n, totalLines).
func (b *Buffer) SetCurrentLine(n int) {
	if n > b.totalLines {
		n = b.totalLines
	}
	if n < 0 {
		n = 0
	}
	b.currentLine = n
}

// CurrentLine returns the current line counter.
func (b *Buffer) CurrentLine() int { return b.currentLine }

// BufferedLines returns the number of lines still present in the buffer.
func (b *Buffer) BufferedLines() int { return b.bufferedLines }

// TotalLines returns the cumulative number of lines appended since the last
// Clear (or Set).
func (b *Buffer) TotalLines() int { return b.totalLines }

// BufferSize returns the total byte size currently buffered.
func (b *Buffer) BufferSize() int { return b.bufferSize }

// MaxBufferSize returns the configured capacity.
func (b *Buffer) MaxBufferSize() int { return b.maxBufferSize }

func (b *Buffer) appendChunk(chunk string) {
	if len(b.buckets) == 0 || len(b.buckets[len(b.buckets)-1]) >= b.maxBucketSize {
		b.buckets = append(b.buckets, []byte{})
	}
	bi := len(b.buckets) - 1
	isFirstBucket := bi == 0
	bucket := b.buckets[bi]

	before := countNewlines(bucket)
	beforeLen := len(bucket)

	pos := len(bucket)
	bucket = append(bucket, chunk...)
	bucket = cleanupBucket(bucket, pos, isFirstBucket, b.keepMacro)

	b.buckets[bi] = bucket
	after := countNewlines(bucket)

	b.bufferSize += len(bucket) - beforeLen
	delta := after - before
	b.bufferedLines += delta
	b.totalLines += delta
}

func splitChunks(text string, splitSize int) []string {
	if len(text) == 0 {
		return nil
	}
	var chunks []string
	start := 0
	for start < len(text) {
		searchFrom := start + splitSize
		if searchFrom >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		idx := strings.IndexByte(text[searchFrom:], '\n')
		if idx == -1 {
			chunks = append(chunks, text[start:])
			break
		}
		end := searchFrom + idx + 1
		chunks = append(chunks, text[start:end])
		start = end
	}
	return chunks
}

func cleanupBucket(bucket []byte, chunkStart int, isFirstBucket, keepMacro bool) []byte {
	for i := chunkStart; i < len(bucket); i++ {
		if bucket[i] == '\r' {
			bucket[i] = '\n'
		}
	}

	bucket = stripComments(bucket, chunkStart, keepMacro)

	collapseFrom := chunkStart - 1
	if collapseFrom < 0 {
		collapseFrom = 0
	}
	bucket = collapseNewlines(bucket, collapseFrom)

	if isFirstBucket && len(bucket) > 0 && bucket[0] == '\n' {
		bucket = bucket[1:]
	}

	if len(bucket) > 0 && bucket[len(bucket)-1] != '\n' {
		bucket = append(bucket, '\n')
	}
	return bucket
}

func stripComments(bucket []byte, from int, keepMacro bool) []byte {
	out := make([]byte, from, len(bucket))
	copy(out, bucket[:from])

	i := from
	for i < len(bucket) {
		if bucket[i] == ';' {
			if keepMacro && i+1 < len(bucket) && bucket[i+1] == '@' {
				j := i
				for j < len(bucket) && bucket[j] != '\n' {
					j++
				}
				out = append(out, bucket[i:j]...)
				i = j
				continue
			}
			j := i
			for j < len(bucket) && bucket[j] != '\n' {
				j++
			}
			i = j
			continue
		}
		out = append(out, bucket[i])
		i++
	}
	return out
}

func collapseNewlines(bucket []byte, from int) []byte {
	out := make([]byte, from, len(bucket))
	copy(out, bucket[:from])

	prevNL := false
	for i := from; i < len(bucket); i++ {
		c := bucket[i]
		if c == '\n' {
			if prevNL {
				continue
			}
			prevNL = true
		} else {
			prevNL = false
		}
		out = append(out, c)
	}
	return out
}

func countNewlines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

func indexByteFrom(b []byte, from int, c byte) int {
	idx := -1
	for i := from; i < len(b); i++ {
		if b[i] == c {
			idx = i
			break
		}
	}
	return idx
}
