package signal

import "testing"

func TestTransitionTable(t *testing.T) {
	all := []Status{StatusNovo, StatusPotvurden, StatusVProces, StatusPopraven, StatusArhiv, StatusOtkhvurlen}
	allowed := map[[2]Status]bool{
		{StatusNovo, StatusPotvurden}:       true,
		{StatusNovo, StatusOtkhvurlen}:      true,
		{StatusPotvurden, StatusVProces}:    true,
		{StatusPotvurden, StatusOtkhvurlen}: true,
		{StatusVProces, StatusPopraven}:     true,
		{StatusVProces, StatusOtkhvurlen}:   true,
		{StatusPopraven, StatusArhiv}:       true,
		{StatusPopraven, StatusVProces}:     true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s)=%v, want %v", from, to, got, want)
			}
		}
	}
}

func TestNoEdgeBackIntoNovo(t *testing.T) {
	for from := range transitions {
		for _, to := range transitions[from] {
			if to == StatusNovo {
				t.Fatalf("edge %s -> novo must not exist", from)
			}
		}
	}
}

func TestTerminalStates(t *testing.T) {
	if !StatusArhiv.Terminal() || !StatusOtkhvurlen.Terminal() {
		t.Fatal("arhiv and otkhvurlen must be terminal")
	}
	if StatusPopraven.Terminal() {
		t.Fatal("popraven allows reopen, must not be terminal")
	}
}

func TestParseStatus(t *testing.T) {
	if st, err := ParseStatus("  Potvurden "); err != nil || st != StatusPotvurden {
		t.Fatalf("ParseStatus: %v, %v", st, err)
	}
	if _, err := ParseStatus("deleted"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
