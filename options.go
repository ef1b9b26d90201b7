package toolstream

import "time"

// CodecOption configures a Codec.
type CodecOption func(*codecOptions)

type codecOptions struct {
	priority []Format
}

// WithFormatPriority sets the tie-break order among the textual
// formats. The default is XML before JSON. The ordering is a single
// policy knob, deliberately not scattered across conditionals; confirm
// it against real model traces before changing it. FormatNative and
// FormatNone entries are ignored: native always wins outright.
func WithFormatPriority(order ...Format) CodecOption {
	return func(o *codecOptions) {
		filtered := make([]Format, 0, len(order))
		for _, f := range order {
			if f == FormatXML || f == FormatJSON {
				filtered = append(filtered, f)
			}
		}
		if len(filtered) > 0 {
			o.priority = filtered
		}
	}
}

// SchemaOption configures schema compilation.
type SchemaOption func(*schemaOptions)

type schemaOptions struct {
	strict bool
}

// WithStrictSchema sets additionalProperties: false for all objects and
// makes all properties required (OpenAI Structured Outputs style).
func WithStrictSchema() SchemaOption {
	return func(o *schemaOptions) {
		o.strict = true
	}
}

// PoolOption configures a Pool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	workers       int
	queueSize     int
	jobTimeout    time.Duration
	recoverPanics bool
	middlewares   []DecodeMiddleware
}

func defaultPoolOptions() poolOptions {
	return poolOptions{
		workers:       4,
		queueSize:     16,
		jobTimeout:    50 * time.Millisecond,
		recoverPanics: true,
	}
}

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) PoolOption {
	return func(o *poolOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithQueueSize bounds the job queue. A full queue rejects new jobs,
// which then run inline on the caller.
func WithQueueSize(n int) PoolOption {
	return func(o *poolOptions) {
		if n >= 0 {
			o.queueSize = n
		}
	}
}

// WithJobTimeout sets the default per-job decode budget, applied to
// every job that does not carry its own.
func WithJobTimeout(d time.Duration) PoolOption {
	return func(o *poolOptions) {
		if d > 0 {
			o.jobTimeout = d
		}
	}
}

// WithRecoverPanics enables panic recovery around each job (returns a
// ResultCrash outcome). Enabled by default.
func WithRecoverPanics(enable bool) PoolOption {
	return func(o *poolOptions) {
		o.recoverPanics = enable
	}
}

// WithDecodeMiddlewares installs middlewares around the codec's decode,
// outermost first. Recovery, when enabled, wraps the whole chain.
func WithDecodeMiddlewares(mw ...DecodeMiddleware) PoolOption {
	return func(o *poolOptions) {
		o.middlewares = append(o.middlewares, mw...)
	}
}

// DecoderOption configures a StreamDecoder.
type DecoderOption func(*decoderOptions)

type decoderOptions struct {
	maxBufferBytes int
	jsonLookahead  int
}

func defaultDecoderOptions() decoderOptions {
	return decoderOptions{
		maxBufferBytes: 16 * 1024,
		jsonLookahead:  256,
	}
}

// WithMaxBufferBytes bounds the candidate span buffer. A span that
// exceeds the bound without closing is flushed as ordinary text and
// never reaches the pool.
func WithMaxBufferBytes(n int) DecoderOption {
	return func(o *decoderOptions) {
		if n > 0 {
			o.maxBufferBytes = n
		}
	}
}

// WithJSONLookahead bounds how far past an object literal's opening
// brace the decoder waits for a tool_calls key before releasing the
// held text as ordinary output.
func WithJSONLookahead(n int) DecoderOption {
	return func(o *decoderOptions) {
		if n > 0 {
			o.jsonLookahead = n
		}
	}
}
