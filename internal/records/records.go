package records

import (
	"sort"
	"strings"
)

// AccountRecord describes one followed account on the origin network together
// with its optional link to the corresponding target-network profile.
type AccountRecord struct {
	Login            string `json:"login"`
	Avatar           string `json:"avatar"`
	DisplayName      string `json:"name,omitempty"`
	TargetProfileURL string `json:"bluesky,omitempty"`
	Followed         bool   `json:"following,omitempty"`
}

// HasTargetLink reports whether the record carries a target-network link.
func (record AccountRecord) HasTargetLink() bool {
	return strings.TrimSpace(record.TargetProfileURL) != ""
}

// Dataset pairs the ordered record collection with the identity of its
// backing file. The file path participates in the sync exchange so that a
// write-back can be validated against the dataset it was read from.
type Dataset struct {
	File string          `json:"file"`
	Data []AccountRecord `json:"data"`
}

// SortRecords orders records so that every linked record precedes every
// unlinked one; within equal link presence the ordering is case-folded
// alphabetic by login, raw login as the final tie-break.
func SortRecords(accountRecords []AccountRecord) {
	sort.SliceStable(accountRecords, func(firstIndex, secondIndex int) bool {
		firstRecord := accountRecords[firstIndex]
		secondRecord := accountRecords[secondIndex]
		if firstRecord.HasTargetLink() != secondRecord.HasTargetLink() {
			return firstRecord.HasTargetLink()
		}
		firstLogin := strings.ToLower(firstRecord.Login)
		secondLogin := strings.ToLower(secondRecord.Login)
		if firstLogin != secondLogin {
			return firstLogin < secondLogin
		}
		return firstRecord.Login < secondRecord.Login
	})
}

// CloneRecords returns an independent copy of the record slice.
func CloneRecords(accountRecords []AccountRecord) []AccountRecord {
	cloned := make([]AccountRecord, len(accountRecords))
	copy(cloned, accountRecords)
	return cloned
}
