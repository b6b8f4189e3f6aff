package logger

import (
	"testing"
	"time"
)

func TestCaptureTeesLogRecords(t *testing.T) {
	log, capture := NewWithCapture("production", 10)
	log.Info("poll ok", "code", 204)
	log.Warn("pull failed", "err", "timeout")

	if capture.Len() != 2 {
		t.Fatalf("Len = %d, want 2", capture.Len())
	}
	records := capture.Drain()
	if records[0].Message != "poll ok" || records[0].Level != "INFO" {
		t.Errorf("record = %+v", records[0])
	}
	if records[0].Attrs["code"] != "204" {
		t.Errorf("attrs = %+v", records[0].Attrs)
	}
	if capture.Len() != 0 {
		t.Error("drain must empty the buffer")
	}
}

func TestCaptureRespectsLevel(t *testing.T) {
	log, capture := NewWithCapture("production", 10)
	log.Debug("noisy")
	if capture.Len() != 0 {
		t.Error("debug records must not be captured in production")
	}

	devLog, devCapture := NewWithCapture("dev", 10)
	devLog.Debug("noisy")
	if devCapture.Len() != 1 {
		t.Error("debug records should be captured in dev")
	}
}

func TestCaptureBounded(t *testing.T) {
	log, capture := NewWithCapture("production", 3)
	for i := 0; i < 10; i++ {
		log.Info("m")
	}
	if capture.Len() != 3 {
		t.Fatalf("Len = %d, want 3", capture.Len())
	}
}

func TestCaptureCarriesWithAttrs(t *testing.T) {
	log, capture := NewWithCapture("production", 10)
	log.With("device_id", "dev-1").Info("hello")
	records := capture.Drain()
	if len(records) != 1 || records[0].Attrs["device_id"] != "dev-1" {
		t.Errorf("records = %+v", records)
	}
}

func TestRequeueKeepsOrderAndBound(t *testing.T) {
	capture := newCapture(3)
	capture.append(Record{Message: "c", Time: time.Now()})
	capture.Requeue([]Record{{Message: "a"}, {Message: "b"}})

	records := capture.Drain()
	if len(records) != 3 {
		t.Fatalf("len = %d, want 3", len(records))
	}
	if records[0].Message != "a" || records[2].Message != "c" {
		t.Errorf("order = %v %v %v", records[0].Message, records[1].Message, records[2].Message)
	}
}
