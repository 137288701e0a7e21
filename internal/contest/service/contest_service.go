package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codearena/internal/contest/leaderboard"
	"codearena/internal/contest/repository"
	pkgerrors "codearena/pkg/errors"
)

// ContestService gates contest submissions and serves contest reads.
type ContestService struct {
	repo  repository.ContestRepository
	board *leaderboard.Store
	now   func() time.Time
}

// NewContestService creates a ContestService. now defaults to time.Now.
func NewContestService(repo repository.ContestRepository, board *leaderboard.Store, now func() time.Time) *ContestService {
	if now == nil {
		now = time.Now
	}
	return &ContestService{repo: repo, board: board, now: now}
}

// Admission is the outcome of a successful submission check.
type Admission struct {
	Contest repository.Contest
	// At is the check time and Elapsed is At minus the contest start.
	At      time.Time
	Elapsed time.Duration
}

// ContestDetail is a contest with its phase and problem set.
type ContestDetail struct {
	repository.Contest
	EndTime    time.Time        `json:"end_time"`
	Phase      repository.Phase `json:"phase"`
	ProblemIDs []int64          `json:"problem_ids"`
}

// ContestList groups contests by phase.
type ContestList struct {
	Upcoming []ContestDetail `json:"upcoming"`
	Ongoing  []ContestDetail `json:"ongoing"`
	Past     []ContestDetail `json:"past"`
}

// Leaderboard is the ranked view of a contest.
type Leaderboard struct {
	ContestID int64                     `json:"contest_id"`
	Version   int64                     `json:"version"`
	Policy    string                    `json:"policy"`
	Entries   []leaderboard.RankedEntry `json:"entries"`
}

// Now returns the service clock.
func (s *ContestService) Now() time.Time {
	return s.now()
}

// CheckSubmission decides whether userID may submit problemID to contestID at now.
// Checks run in order: contest exists, registration, problem membership, time window.
func (s *ContestService) CheckSubmission(ctx context.Context, contestID, userID, problemID int64, now time.Time) (*Admission, error) {
	if contestID <= 0 || userID <= 0 || problemID <= 0 {
		return nil, pkgerrors.New(pkgerrors.InvalidParams)
	}
	contest, err := s.getContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	registered, err := s.repo.IsRegistered(ctx, contestID, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("check registration failed: %w", err), pkgerrors.DatabaseError)
	}
	if !registered {
		return nil, pkgerrors.New(pkgerrors.NotRegistered)
	}
	member, err := s.repo.HasProblem(ctx, contestID, problemID)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("check contest problem failed: %w", err), pkgerrors.DatabaseError)
	}
	if !member {
		return nil, pkgerrors.New(pkgerrors.ProblemNotInContest)
	}
	switch contest.PhaseAt(now) {
	case repository.PhaseUpcoming:
		return nil, pkgerrors.New(pkgerrors.ContestNotStarted)
	case repository.PhaseEnded:
		return nil, pkgerrors.New(pkgerrors.ContestEnded)
	}
	return &Admission{Contest: contest, At: now, Elapsed: now.Sub(contest.StartTime)}, nil
}

// Register adds userID to the contest registrants.
func (s *ContestService) Register(ctx context.Context, contestID, userID int64) error {
	if contestID <= 0 || userID <= 0 {
		return pkgerrors.New(pkgerrors.InvalidParams)
	}
	contest, err := s.getContest(ctx, contestID)
	if err != nil {
		return err
	}
	now := s.now()
	if !contest.RegistrationOpen(now) {
		return pkgerrors.New(pkgerrors.RegistrationClosed)
	}
	err = s.repo.Register(ctx, contestID, userID, now)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrAlreadyRegistered):
		return pkgerrors.New(pkgerrors.AlreadyRegistered)
	case errors.Is(err, repository.ErrRegistrationClosed):
		return pkgerrors.New(pkgerrors.RegistrationClosed)
	case errors.Is(err, repository.ErrContestNotFound):
		return pkgerrors.New(pkgerrors.ContestNotFound)
	default:
		return pkgerrors.Wrap(fmt.Errorf("register failed: %w", err), pkgerrors.RegistrationFailed)
	}
}

// Get returns a contest with its phase and problems.
func (s *ContestService) Get(ctx context.Context, contestID int64) (ContestDetail, error) {
	if contestID <= 0 {
		return ContestDetail{}, pkgerrors.New(pkgerrors.InvalidParams)
	}
	contest, err := s.getContest(ctx, contestID)
	if err != nil {
		return ContestDetail{}, err
	}
	problemIDs, err := s.repo.ListProblemIDs(ctx, contestID)
	if err != nil {
		return ContestDetail{}, pkgerrors.Wrap(fmt.Errorf("list contest problems failed: %w", err), pkgerrors.DatabaseError)
	}
	return s.detail(contest, problemIDs), nil
}

// List returns every contest grouped by phase at the current time.
func (s *ContestService) List(ctx context.Context) (ContestList, error) {
	contests, err := s.repo.List(ctx)
	if err != nil {
		return ContestList{}, pkgerrors.Wrap(fmt.Errorf("list contests failed: %w", err), pkgerrors.DatabaseError)
	}
	out := ContestList{
		Upcoming: make([]ContestDetail, 0),
		Ongoing:  make([]ContestDetail, 0),
		Past:     make([]ContestDetail, 0),
	}
	for _, c := range contests {
		d := s.detail(c, nil)
		switch d.Phase {
		case repository.PhaseUpcoming:
			out.Upcoming = append(out.Upcoming, d)
		case repository.PhaseOngoing:
			out.Ongoing = append(out.Ongoing, d)
		default:
			out.Past = append(out.Past, d)
		}
	}
	return out, nil
}

// Leaderboard returns the ranked board of a contest.
func (s *ContestService) Leaderboard(ctx context.Context, contestID int64) (Leaderboard, error) {
	if contestID <= 0 {
		return Leaderboard{}, pkgerrors.New(pkgerrors.InvalidParams)
	}
	if _, err := s.getContest(ctx, contestID); err != nil {
		return Leaderboard{}, err
	}
	if s.board == nil {
		return Leaderboard{}, pkgerrors.New(pkgerrors.RankingNotAvailable)
	}
	// Read the version first so a concurrent update is seen as a newer version later.
	version, err := s.board.Version(ctx, contestID)
	if err != nil {
		return Leaderboard{}, pkgerrors.Wrap(err, pkgerrors.CacheError)
	}
	entries, err := s.board.Entries(ctx, contestID)
	if err != nil {
		return Leaderboard{}, pkgerrors.Wrap(err, pkgerrors.CacheError)
	}
	return Leaderboard{
		ContestID: contestID,
		Version:   version,
		Policy:    s.board.Policy().Name(),
		Entries:   leaderboard.WithRanks(leaderboard.Rank(entries)),
	}, nil
}

// LeaderboardVersion returns a counter that moves whenever the board changes.
func (s *ContestService) LeaderboardVersion(ctx context.Context, contestID int64) (int64, error) {
	if s.board == nil {
		return 0, pkgerrors.New(pkgerrors.RankingNotAvailable)
	}
	version, err := s.board.Version(ctx, contestID)
	if err != nil {
		return 0, pkgerrors.Wrap(err, pkgerrors.CacheError)
	}
	return version, nil
}

// ApplySubmission records a graded submission on the contest leaderboard.
// Repeating it with the same submissionID does not count the submission again.
func (s *ContestService) ApplySubmission(ctx context.Context, adm *Admission, submissionID string, userID, problemID int64, accepted bool) (leaderboard.ApplyResult, error) {
	if adm == nil {
		return leaderboard.ApplyResult{}, pkgerrors.New(pkgerrors.InvalidParams)
	}
	if s.board == nil {
		return leaderboard.ApplyResult{}, pkgerrors.New(pkgerrors.RankingNotAvailable)
	}
	res, err := s.board.Apply(ctx, leaderboard.Update{
		ContestID:    adm.Contest.ID,
		UserID:       userID,
		ProblemID:    problemID,
		Accepted:     accepted,
		SubmittedAt:  adm.At,
		Elapsed:      adm.Elapsed,
		SubmissionID: submissionID,
	})
	if err != nil {
		return leaderboard.ApplyResult{}, pkgerrors.Wrap(err, pkgerrors.LeaderboardUpdate)
	}
	return res, nil
}

func (s *ContestService) getContest(ctx context.Context, contestID int64) (repository.Contest, error) {
	contest, err := s.repo.GetByID(ctx, contestID)
	if err != nil {
		if errors.Is(err, repository.ErrContestNotFound) {
			return repository.Contest{}, pkgerrors.New(pkgerrors.ContestNotFound)
		}
		return repository.Contest{}, pkgerrors.Wrap(fmt.Errorf("get contest failed: %w", err), pkgerrors.DatabaseError)
	}
	return contest, nil
}

func (s *ContestService) detail(c repository.Contest, problemIDs []int64) ContestDetail {
	if problemIDs == nil {
		problemIDs = []int64{}
	}
	return ContestDetail{
		Contest:    c,
		EndTime:    c.EndTime(),
		Phase:      c.PhaseAt(s.now()),
		ProblemIDs: problemIDs,
	}
}
