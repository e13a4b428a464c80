package geptracing

import (
	"context"
	"testing"
)

func TestSetupNoneIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Exporter: ExporterNone})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupStdoutExporter(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{
		ServiceName: "gep-test",
		Exporter:    ExporterStdout,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	ctx, span := StartProduceSpan(context.Background(), "/a/SAMPLE/20150815T100000")
	if !span.SpanContext().HasTraceID() {
		t.Fatal("expected span to have a trace ID once a real provider is installed")
	}
	span.End()

	_, decryptSpan := StartDecryptSpan(ctx, "c_key", "/a/C-KEY/20150815T100000")
	decryptSpan.End()
}

func TestSetupUnknownExporter(t *testing.T) {
	if _, err := Setup(context.Background(), Config{Exporter: "bogus"}); err == nil {
		t.Fatal("expected error for unknown exporter kind")
	}
}
