package review

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/g-sync/gsync/internal/bluesky"
	"github.com/g-sync/gsync/internal/records"
)

// DefaultFollowConcurrency bounds the batch follow fan-out when the
// configuration leaves FollowConcurrency unset.
const DefaultFollowConcurrency = 4

const (
	errMessageUnknownRecord   = "record login is not part of the dataset"
	errMessageActionInFlight  = "another action is already in flight"
	logMessageLoginFailed     = "login attempt failed"
	logMessageSearchFailed    = "candidate search failed"
	logMessageFollowFailed    = "follow attempt failed"
	logMessageBatchItemFailed = "batch follow item failed"
	logMessageSaveRejected    = "dataset save rejected"
	logFieldLogin             = "login"
)

var (
	// ErrUnknownRecord indicates an operation that targeted a login absent
	// from the dataset.
	ErrUnknownRecord = errors.New(errMessageUnknownRecord)
	// ErrActionInFlight indicates an async action dropped because another
	// one is still running.
	ErrActionInFlight = errors.New(errMessageActionInFlight)
)

// Authenticator establishes a target-network session from credentials.
type Authenticator interface {
	Login(ctx context.Context, identifier string, secret string) error
}

// DatasetReplacer accepts a full replacement dataset for persistence.
type DatasetReplacer interface {
	Replace(payload records.Dataset) error
}

// SessionConfig wires the collaborators of a review session.
type SessionConfig struct {
	File              string
	Records           []records.AccountRecord
	Authenticator     Authenticator
	Resolver          *Resolver
	Executor          *Executor
	Replacer          DatasetReplacer
	Presenter         ModalPresenter
	Logger            *zap.Logger
	FollowConcurrency int
}

// Session orchestrates the interactive review workflow: login state, the
// search dialog, per-record and batch follow actions, and the dirty flag
// gating save. It holds a working copy of the dataset; the persisted copy
// changes only through Save.
//
// The Loading flag is mutually exclusive across all async action families:
// any search, follow, batch, or save request while another is in flight is
// dropped rather than queued.
type Session struct {
	mutex             sync.Mutex
	state             State
	accountRecords    []records.AccountRecord
	file              string
	authenticator     Authenticator
	resolver          *Resolver
	executor          *Executor
	replacer          DatasetReplacer
	presenter         ModalPresenter
	logger            *zap.Logger
	followConcurrency int
}

// NewSession constructs a Session in the initial state.
func NewSession(configuration SessionConfig) *Session {
	presenter := configuration.Presenter
	if presenter == nil {
		presenter = NopPresenter{}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	followConcurrency := configuration.FollowConcurrency
	if followConcurrency <= 0 {
		followConcurrency = DefaultFollowConcurrency
	}
	return &Session{
		state:             InitialState(),
		accountRecords:    records.CloneRecords(configuration.Records),
		file:              configuration.File,
		authenticator:     configuration.Authenticator,
		resolver:          configuration.Resolver,
		executor:          configuration.Executor,
		replacer:          configuration.Replacer,
		presenter:         presenter,
		logger:            logger,
		followConcurrency: followConcurrency,
	}
}

// StateSnapshot returns a copy of the current session state.
func (session *Session) StateSnapshot() State {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	snapshot := session.state
	snapshot.Candidates = append([]bluesky.CandidateProfile{}, session.state.Candidates...)
	return snapshot
}

// RecordsSnapshot returns a sorted copy of the working dataset.
func (session *Session) RecordsSnapshot() []records.AccountRecord {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	snapshot := records.CloneRecords(session.accountRecords)
	records.SortRecords(snapshot)
	return snapshot
}

// Dataset returns the working dataset bound to its file identity.
func (session *Session) Dataset() records.Dataset {
	return records.Dataset{File: session.file, Data: session.RecordsSnapshot()}
}

// OpenLoginDialog opens the credential dialog without any other change.
func (session *Session) OpenLoginDialog() State {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.applyLocked(openLoginDialog(session.state))
}

// AttemptLogin tries to authenticate with the supplied credentials. A failed
// attempt is silent: the session ends up logged out with the dialog closed.
func (session *Session) AttemptLogin(ctx context.Context, identifier string, secret string) State {
	session.mutex.Lock()
	if session.state.Loading {
		defer session.mutex.Unlock()
		return session.state
	}
	session.applyLocked(beginLoading(session.state))
	session.mutex.Unlock()

	loginErr := session.authenticator.Login(ctx, identifier, secret)
	if loginErr != nil {
		session.logger.Warn(logMessageLoginFailed, zap.Error(loginErr))
	}

	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.applyLocked(settleLogin(session.state, loginErr == nil))
}

// RequestSearch fetches candidate profiles for the record identified by
// login. An unauthenticated request opens the login dialog instead; the
// user re-invokes the search after logging in.
func (session *Session) RequestSearch(ctx context.Context, login string) (State, error) {
	session.mutex.Lock()
	if !session.state.Authenticated {
		defer session.mutex.Unlock()
		return session.applyLocked(openLoginDialog(session.state)), nil
	}
	if session.state.Loading {
		defer session.mutex.Unlock()
		return session.state, ErrActionInFlight
	}
	record, found := session.findRecordLocked(login)
	if !found {
		defer session.mutex.Unlock()
		return session.state, ErrUnknownRecord
	}
	session.applyLocked(beginSearch(session.state))
	session.mutex.Unlock()

	candidates, searchErr := session.resolver.Search(ctx, record)
	if searchErr != nil {
		session.logger.Warn(logMessageSearchFailed, zap.String(logFieldLogin, login), zap.Error(searchErr))
	}

	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.applyLocked(settleSearch(session.state, login, candidates, searchErr == nil)), nil
}

// SelectCandidate rewrites the record's target link from the chosen
// candidate and closes the search dialog.
func (session *Session) SelectCandidate(login string, candidateDID string) (State, error) {
	resolvedLink, linkErr := bluesky.ResolvedLink(candidateDID)
	if linkErr != nil {
		return session.StateSnapshot(), linkErr
	}

	session.mutex.Lock()
	defer session.mutex.Unlock()
	recordIndex, found := session.findRecordIndexLocked(login)
	if !found {
		return session.state, ErrUnknownRecord
	}
	session.accountRecords[recordIndex].TargetProfileURL = resolvedLink.ProfileURL()
	session.applyLocked(markDirty(session.state))
	return session.applyLocked(closeSearchDialog(session.state)), nil
}

// CloseSearch closes the search dialog and discards its candidates.
func (session *Session) CloseSearch() State {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.applyLocked(closeSearchDialog(session.state))
}

// RequestFollow follows the record identified by login. Unauthenticated
// requests open the login dialog; a record without a target link yields
// ErrMissingLink for the caller to surface as a warning.
func (session *Session) RequestFollow(ctx context.Context, login string) (State, error) {
	session.mutex.Lock()
	if !session.state.Authenticated {
		defer session.mutex.Unlock()
		return session.applyLocked(openLoginDialog(session.state)), nil
	}
	if session.state.Loading {
		defer session.mutex.Unlock()
		return session.state, ErrActionInFlight
	}
	record, found := session.findRecordLocked(login)
	if !found {
		defer session.mutex.Unlock()
		return session.state, ErrUnknownRecord
	}
	if !record.HasTargetLink() {
		defer session.mutex.Unlock()
		return session.state, bluesky.ErrMissingLink
	}
	session.applyLocked(beginLoading(session.state))
	session.mutex.Unlock()

	updatedRecord, changed, followErr := session.executor.Follow(ctx, record)
	if followErr != nil {
		session.logger.Warn(logMessageFollowFailed, zap.String(logFieldLogin, login), zap.Error(followErr))
	}

	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.applyRecordLocked(updatedRecord, changed)
	return session.applyLocked(settleLoading(session.state)), followErr
}

// FollowAll follows every record that has a target link and is not yet
// followed. The fan-out is bounded by the configured concurrency; item
// failures are logged and never abort sibling follows. The caller is
// responsible for the confirmation step.
func (session *Session) FollowAll(ctx context.Context) (State, error) {
	session.mutex.Lock()
	if !session.state.Authenticated {
		defer session.mutex.Unlock()
		return session.applyLocked(openLoginDialog(session.state)), nil
	}
	if session.state.Loading {
		defer session.mutex.Unlock()
		return session.state, ErrActionInFlight
	}
	eligible := session.eligibleForFollowLocked()
	session.applyLocked(beginLoading(session.state))
	session.mutex.Unlock()

	var group errgroup.Group
	group.SetLimit(session.followConcurrency)
	for _, eligibleRecord := range eligible {
		eligibleRecord := eligibleRecord
		group.Go(func() error {
			updatedRecord, changed, followErr := session.executor.Follow(ctx, eligibleRecord)
			if followErr != nil {
				session.logger.Warn(logMessageBatchItemFailed,
					zap.String(logFieldLogin, eligibleRecord.Login), zap.Error(followErr))
			}
			session.mutex.Lock()
			session.applyRecordLocked(updatedRecord, changed)
			session.mutex.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.applyLocked(settleLoading(session.state)), nil
}

// Save pushes the working dataset through the sync endpoint. A clean or
// busy session is a no-op; a rejected save keeps the dirty flag so the user
// can retry.
func (session *Session) Save(ctx context.Context) (State, error) {
	session.mutex.Lock()
	if !session.state.Dirty || session.state.Loading {
		defer session.mutex.Unlock()
		return session.state, nil
	}
	session.applyLocked(beginLoading(session.state))
	payload := records.Dataset{File: session.file, Data: records.CloneRecords(session.accountRecords)}
	session.mutex.Unlock()

	saveErr := session.replacer.Replace(payload)
	if saveErr != nil {
		session.logger.Warn(logMessageSaveRejected, zap.Error(saveErr))
	}

	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.applyLocked(settleSave(session.state, saveErr == nil)), saveErr
}

// applyLocked installs the next state and runs the modal visibility effect
// for any dialog flag that toggled. Callers hold the session mutex.
func (session *Session) applyLocked(next State) State {
	previous := session.state
	session.state = next
	if previous.LoginDialogOpen != next.LoginDialogOpen {
		session.presenter.PresentModal(ModalLogin, next.LoginDialogOpen)
	}
	if previous.SearchDialogOpen != next.SearchDialogOpen {
		session.presenter.PresentModal(ModalSearch, next.SearchDialogOpen)
	}
	return session.state
}

func (session *Session) applyRecordLocked(updatedRecord records.AccountRecord, changed bool) {
	if !changed {
		return
	}
	recordIndex, found := session.findRecordIndexLocked(updatedRecord.Login)
	if !found {
		return
	}
	session.accountRecords[recordIndex] = updatedRecord
	session.state = markDirty(session.state)
}

func (session *Session) eligibleForFollowLocked() []records.AccountRecord {
	var eligible []records.AccountRecord
	for _, accountRecord := range session.accountRecords {
		if accountRecord.HasTargetLink() && !accountRecord.Followed {
			eligible = append(eligible, accountRecord)
		}
	}
	return eligible
}

func (session *Session) findRecordLocked(login string) (records.AccountRecord, bool) {
	recordIndex, found := session.findRecordIndexLocked(login)
	if !found {
		return records.AccountRecord{}, false
	}
	return session.accountRecords[recordIndex], true
}

func (session *Session) findRecordIndexLocked(login string) (int, bool) {
	for recordIndex, accountRecord := range session.accountRecords {
		if accountRecord.Login == login {
			return recordIndex, true
		}
	}
	return 0, false
}
