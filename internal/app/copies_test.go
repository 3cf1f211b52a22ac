package app

import (
	"errors"
	"testing"

	"libraryweb/pkg/domain"
)

func TestChangeCopyStatusPromotesQueue(t *testing.T) {
	a, _, rec := newTestApp(t)
	first := mustRegister(t, a, "current@example.org")
	second := mustRegister(t, a, "next@example.org")
	book := mustAddBook(t, a, "Circulating", 1, domain.AccessTakeHome)
	serial := book.Copies[0].SerialNum

	pending := mustRequest(t, a, first.ID, book.ID)
	if _, err := a.GiveBook(pending.ID); err != nil {
		t.Fatalf("failed to give book: %v", err)
	}
	queued := mustRequest(t, a, second.ID, book.ID)

	// Marking the copy available by hand still promotes the queue head.
	c, err := a.ChangeCopyStatus(serial, domain.CopyAvailable)
	if err != nil {
		t.Fatalf("failed to change copy status: %v", err)
	}
	if c.Status != domain.CopyReserved {
		t.Fatalf("expected copy re-reserved for the promoted reader, got %s", c.Status)
	}
	if got := requestStatus(t, a, queued.ID); got != domain.RequestPending {
		t.Fatalf("expected queue head PENDING, got %s", got)
	}
	notices := rec.sent()
	if len(notices) != 1 || notices[0].recipient != "next@example.org" {
		t.Fatalf("expected one notice to the promoted reader, got %+v", notices)
	}
}

func TestChangeCopyStatusAvailableWithEmptyQueue(t *testing.T) {
	a, _, rec := newTestApp(t)
	reader := mustRegister(t, a, "solo@example.org")
	book := mustAddBook(t, a, "Quiet Shelf", 1, domain.AccessTakeHome)
	serial := book.Copies[0].SerialNum

	request := mustRequest(t, a, reader.ID, book.ID)
	if _, err := a.GiveBook(request.ID); err != nil {
		t.Fatalf("failed to give book: %v", err)
	}

	c, err := a.ChangeCopyStatus(serial, domain.CopyAvailable)
	if err != nil {
		t.Fatalf("failed to change copy status: %v", err)
	}
	if c.Status != domain.CopyAvailable {
		t.Fatalf("expected copy AVAILABLE with empty queue, got %s", c.Status)
	}
	if len(rec.sent()) != 0 {
		t.Fatalf("no notice expected with an empty queue")
	}
}

func TestChangeCopyStatusRejectsIllegalTransition(t *testing.T) {
	a, _, _ := newTestApp(t)
	book := mustAddBook(t, a, "Strict", 1, domain.AccessTakeHome)
	serial := book.Copies[0].SerialNum

	if _, err := a.ChangeCopyStatus(serial, domain.CopyBorrowed); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for AVAILABLE->BORROWED, got %v", err)
	}
}

func TestChangeCopyStatusSameStatusIsNoop(t *testing.T) {
	a, _, rec := newTestApp(t)
	book := mustAddBook(t, a, "Idle", 1, domain.AccessTakeHome)
	serial := book.Copies[0].SerialNum

	c, err := a.ChangeCopyStatus(serial, domain.CopyAvailable)
	if err != nil {
		t.Fatalf("expected no-op to succeed, got %v", err)
	}
	if c.Status != domain.CopyAvailable {
		t.Fatalf("expected status unchanged, got %s", c.Status)
	}
	if len(rec.sent()) != 0 {
		t.Fatalf("no-op must not trigger promotion")
	}
}

func TestChangeCopyStatusUnknownSerial(t *testing.T) {
	a, _, _ := newTestApp(t)
	if _, err := a.ChangeCopyStatus("missing-01", domain.CopyReserved); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
