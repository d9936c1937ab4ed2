package client

import (
	"context"
	"testing"

	"score-render/adapter/adaptertest"
	"score-render/codec"
	"score-render/message"
)

const benchScore = "<mei><music><body><mdiv><score/></mdiv></body></music></mei>"

// Single goroutine, one call at a time
func BenchmarkSerialRender(b *testing.B) {
	c := NewClient(startHosts(b, 1, adaptertest.Loader))
	b.Cleanup(func() { c.Close() })
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.RenderData(ctx, benchScore, nil); err != nil {
			b.Fatal(err)
		}
	}
}

// Many goroutines over a pool of workers per host
func BenchmarkConcurrentRender(b *testing.B) {
	c := NewClient(startHosts(b, 2, adaptertest.Loader), WithCodec(codec.CodecTypeBinary), WithPoolSize(8))
	b.Cleanup(func() { c.Close() })
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := c.RenderData(ctx, benchScore, nil); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func benchmarkCodec(b *testing.B, ct codec.CodecType) {
	cdc, err := codec.GetCodec(ct)
	if err != nil {
		b.Fatal(err)
	}
	call, err := message.NewCall(message.MethodRenderData, 7, benchScore, map[string]any{"scale": 40})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(call)
		var out message.Call
		cdc.Decode(data, &out)
	}
}

func BenchmarkCodecJSON(b *testing.B)   { benchmarkCodec(b, codec.CodecTypeJSON) }
func BenchmarkCodecBinary(b *testing.B) { benchmarkCodec(b, codec.CodecTypeBinary) }
