package hint

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/state"
)

// ApproxHint is the result of a randomized nearest-ratio search.
type ApproxHint struct {
	// Owner is the sampled trove whose nominal ratio lies closest to the
	// target, uuid.Nil when no troves exist.
	Owner uuid.UUID
	// Diff is the absolute distance between Owner's ratio and the target.
	Diff *uint256.Int
	// LatestSeed is the final value of the seed chain, usable to resume
	// the search where this call stopped.
	LatestSeed uint64
}

// ApproxSearch finds an approximate insertion position by sampling the
// unordered owner array. The caller follows up with a short ordered walk
// from the returned hint. Read-only; safe under the engine's read lock.
type ApproxSearch struct {
	ledger *state.TroveLedger
	ratios *state.RatioEngine
	cursor Cursor
}

func NewApproxSearch(ledger *state.TroveLedger, ratios *state.RatioEngine, cursor Cursor) *ApproxSearch {
	return &ApproxSearch{ledger: ledger, ratios: ratios, cursor: cursor}
}

// FindHint samples numTrials troves and returns the one whose nominal
// ratio is closest to targetNICR. The first pick is the worst-ratio trove;
// the remaining numTrials-1 picks are drawn from a deterministic seed
// chain, so equal inputs over equal state yield equal results.
func (s *ApproxSearch) FindHint(targetNICR *uint256.Int, numTrials uint64, seed uint64) *ApproxHint {
	count := s.ledger.Count()
	if count == 0 {
		return &ApproxHint{Owner: uuid.Nil, Diff: new(uint256.Int), LatestSeed: seed}
	}

	best := s.cursor.Last()
	bestDiff := s.diffFor(best, targetNICR)
	latestSeed := seed

	for i := uint64(1); i < numTrials; i++ {
		latestSeed = nextSeed(latestSeed)
		candidate := s.ledger.OwnerAt(int(latestSeed % uint64(count)))
		d := s.diffFor(candidate, targetNICR)
		// Strict improvement only: ties keep the earlier pick.
		if d.Lt(bestDiff) {
			best = candidate
			bestDiff = d
		}
	}

	return &ApproxHint{Owner: best, Diff: bestDiff, LatestSeed: latestSeed}
}

func (s *ApproxSearch) diffFor(owner uuid.UUID, target *uint256.Int) *uint256.Int {
	nicr := s.ratios.NominalCR(s.ledger.CollOf(owner), s.ledger.DebtOf(owner))
	if nicr.Lt(target) {
		return new(uint256.Int).Sub(target, nicr)
	}
	return nicr.Sub(nicr, target)
}

// nextSeed advances the deterministic sampling chain: the first eight bytes
// of SHA-256 over the little-endian seed.
func nextSeed(seed uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	sum := sha256.Sum256(buf[:])
	return binary.LittleEndian.Uint64(sum[:8])
}
