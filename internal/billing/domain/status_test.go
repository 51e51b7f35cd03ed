package billing

import "testing"

func TestResolveStatus_Precedence(t *testing.T) {
	c := testCharge()
	c.Status = "RECEIVED"
	c.PaidInstallments = NewInstallmentSet(2, 3)
	c.CancelledInstallments = NewInstallmentSet(3)
	vocab := DefaultVocabulary()

	if got := ResolveStatus(3, c, vocab); got != StatusCancelled {
		t.Fatalf("cancelled must win over paid, got %s", got)
	}
	if got := ResolveStatus(2, c, vocab); got != StatusPaid {
		t.Fatalf("expected PAID, got %s", got)
	}
	if got := ResolveStatus(1, c, vocab); got != StatusPaid {
		t.Fatalf("expected reported status mapped to PAID, got %s", got)
	}
}

func TestResolveStatus_PaidOnlyForConfirmedIndex(t *testing.T) {
	c := testCharge()
	c.PaidInstallments = NewInstallmentSet(2)
	for i := 1; i <= 3; i++ {
		got := ResolveStatus(i, c, Vocabulary{})
		if i == 2 && got != StatusPaid {
			t.Fatalf("installment 2: expected PAID, got %s", got)
		}
		if i != 2 && got != StatusWaiting {
			t.Fatalf("installment %d: expected WAITING, got %s", i, got)
		}
	}
}

func TestVocabulary_Parse(t *testing.T) {
	cases := map[string]InstallmentStatus{
		"pending":          StatusWaiting,
		" Aguardando ":     StatusWaiting,
		"CONFIRMED":        StatusPaid,
		"pago":             StatusPaid,
		"overdue":          StatusOverdue,
		"vencido":          StatusOverdue,
		"refunded":         StatusRefunded,
		"canceled":         StatusCancelled,
		"received-in-cash": StatusPaid,
	}
	vocab := DefaultVocabulary()
	for raw, want := range cases {
		got, ok := vocab.Parse(raw)
		if !ok || got != want {
			t.Fatalf("%q: got %s ok=%v, want %s", raw, got, ok, want)
		}
	}
}

func TestVocabulary_UnknownDefaultsToWaiting(t *testing.T) {
	got, ok := DefaultVocabulary().Parse("SOMETHING_NEW")
	if ok {
		t.Fatalf("expected unrecognized flag")
	}
	if got != StatusWaiting {
		t.Fatalf("expected WAITING, got %s", got)
	}
}

func TestVocabulary_WithAliases(t *testing.T) {
	vocab, err := DefaultVocabulary().WithAliases(map[string]string{"quitado": "paid"})
	if err != nil {
		t.Fatalf("aliases: %v", err)
	}
	if got, ok := vocab.Parse("QUITADO"); !ok || got != StatusPaid {
		t.Fatalf("expected alias to map to PAID, got %s ok=%v", got, ok)
	}
	if DefaultVocabulary().Known("quitado") {
		t.Fatalf("default table must not be modified")
	}
	if _, err := DefaultVocabulary().WithAliases(map[string]string{"x": "later"}); err == nil {
		t.Fatalf("expected error for unknown target")
	}
}
