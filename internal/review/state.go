package review

import "github.com/g-sync/gsync/internal/bluesky"

// ModalKind identifies one of the review page's modal dialogs.
type ModalKind string

const (
	// ModalLogin is the credential entry dialog.
	ModalLogin = ModalKind("login")
	// ModalSearch is the candidate selection dialog.
	ModalSearch = ModalKind("search")
)

// ModalPresenter maps dialog state to visibility. The session invokes it
// after every transition that toggles a dialog flag; the UI layer renders
// whatever the state says rather than being driven imperatively.
type ModalPresenter interface {
	PresentModal(kind ModalKind, visible bool)
}

// NopPresenter ignores all modal transitions.
type NopPresenter struct{}

// PresentModal implements ModalPresenter.
func (NopPresenter) PresentModal(ModalKind, bool) {}

// State is the transient review session state. Transitions are pure
// functions from State to State so the workflow can be unit tested without
// any rendering environment.
type State struct {
	Authenticated    bool                       `json:"authenticated"`
	LoginDialogOpen  bool                       `json:"loginDialogOpen"`
	SearchDialogOpen bool                       `json:"searchDialogOpen"`
	Loading          bool                       `json:"loading"`
	Dirty            bool                       `json:"dirty"`
	TargetLogin      string                     `json:"targetLogin,omitempty"`
	Candidates       []bluesky.CandidateProfile `json:"candidates"`
}

// InitialState returns the state of a fresh session: unauthenticated, both
// dialogs closed, not loading, not dirty, empty candidate list.
func InitialState() State {
	return State{Candidates: []bluesky.CandidateProfile{}}
}

func beginLoading(current State) State {
	next := current
	next.Loading = true
	return next
}

func openLoginDialog(current State) State {
	next := current
	next.LoginDialogOpen = true
	return next
}

// settleLogin records a login outcome. Failure is silent: the session simply
// remains logged out with the dialog closed.
func settleLogin(current State, succeeded bool) State {
	next := current
	next.Authenticated = succeeded
	next.LoginDialogOpen = false
	next.Loading = false
	return next
}

func beginSearch(current State) State {
	next := current
	next.Loading = true
	next.Candidates = []bluesky.CandidateProfile{}
	return next
}

// settleSearch records a search outcome: the dialog opens only on success,
// and a failure leaves an empty candidate list behind.
func settleSearch(current State, targetLogin string, candidates []bluesky.CandidateProfile, succeeded bool) State {
	next := current
	next.Loading = false
	next.SearchDialogOpen = succeeded
	next.TargetLogin = targetLogin
	if candidates == nil {
		candidates = []bluesky.CandidateProfile{}
	}
	next.Candidates = candidates
	return next
}

func closeSearchDialog(current State) State {
	next := current
	next.SearchDialogOpen = false
	next.TargetLogin = ""
	next.Candidates = []bluesky.CandidateProfile{}
	return next
}

func markDirty(current State) State {
	next := current
	next.Dirty = true
	return next
}

func settleLoading(current State) State {
	next := current
	next.Loading = false
	return next
}

// settleSave clears the dirty flag only when the sync endpoint accepted the
// dataset; a rejected save stays dirty so it can be retried.
func settleSave(current State, accepted bool) State {
	next := current
	next.Loading = false
	if accepted {
		next.Dirty = false
	}
	return next
}
