package musicgen

// TrackedUsers reports how many users the ledger keeps an entry for.
func (l *QuotaLedger) TrackedUsers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}
