package llm

import "testing"

func TestFallbackChainPermanentFailureNeverReturned(t *testing.T) {
	chain := NewFallbackChain([]string{"a", "b", "c"})
	chain.ReportFailure("a", FailurePermanent)

	for i := 0; i < 10; i++ {
		name, ok := chain.NextProvider()
		if !ok {
			t.Fatalf("expected an eligible provider, got none")
		}
		if name == "a" {
			t.Fatalf("permanently failed provider %q returned by NextProvider", name)
		}
		chain.Advance(name)
	}
}

func TestFallbackChainTransientFailuresAccumulateToPermanent(t *testing.T) {
	chain := NewFallbackChain([]string{"a", "b"})
	for i := 0; i < RetryAttempts; i++ {
		chain.ReportFailure("a", FailureTransient)
	}
	if !chain.PermanentlyFailed("a") {
		t.Fatal("expected provider to be permanently failed after RetryAttempts transient failures")
	}
}

func TestFallbackChainSuccessResetsTransientCount(t *testing.T) {
	chain := NewFallbackChain([]string{"a", "b"})
	chain.ReportFailure("a", FailureTransient)
	chain.ReportSuccess("a")
	if chain.AnySuccess() != true {
		t.Fatal("expected AnySuccess to be true")
	}
	if chain.PermanentlyFailed("a") {
		t.Fatal("provider should not be permanently failed after a success")
	}
}

func TestFallbackChainAllPermanentlyFailedReturnsNotOK(t *testing.T) {
	chain := NewFallbackChain([]string{"a", "b"})
	chain.ReportFailure("a", FailurePermanent)
	chain.ReportFailure("b", FailurePermanent)

	if _, ok := chain.NextProvider(); ok {
		t.Fatal("expected no eligible provider when all are permanently failed")
	}
}
