package relationships

import (
	"strconv"
	"strings"
	"sync"

	"github.com/temirov/ghmigrate/internal/fieldmap"
)

// IdentifierLookup resolves an issue reference to the identifier of the migrated issue.
type IdentifierLookup interface {
	Lookup(reference string) (fieldmap.RemoteIdentifier, bool)
}

// ReferenceIndex resolves references by exact key, then by issue number
// ("#12" or "12"), then by title. Titles shared by several issues never resolve.
type ReferenceIndex struct {
	mutex           sync.RWMutex
	keys            map[string]fieldmap.RemoteIdentifier
	titles          map[string]fieldmap.RemoteIdentifier
	ambiguousTitles map[string]struct{}
}

// NewReferenceIndex creates an empty index.
func NewReferenceIndex() *ReferenceIndex {
	return &ReferenceIndex{
		keys:            make(map[string]fieldmap.RemoteIdentifier),
		titles:          make(map[string]fieldmap.RemoteIdentifier),
		ambiguousTitles: make(map[string]struct{}),
	}
}

// AddKeys registers exact keys (source identifiers, numbers, target identifiers) for targetID.
func (index *ReferenceIndex) AddKeys(targetID fieldmap.RemoteIdentifier, keys ...string) {
	if targetID.IsZero() {
		return
	}
	index.mutex.Lock()
	defer index.mutex.Unlock()
	for _, key := range keys {
		normalizedKey := normalizeReference(key)
		if len(normalizedKey) == 0 {
			continue
		}
		index.keys[normalizedKey] = targetID
	}
}

// AddTitle registers title as a fallback reference for targetID.
func (index *ReferenceIndex) AddTitle(targetID fieldmap.RemoteIdentifier, title string) {
	normalizedTitle := fieldmap.NormalizeKey(title)
	if targetID.IsZero() || len(normalizedTitle) == 0 {
		return
	}
	index.mutex.Lock()
	defer index.mutex.Unlock()
	if _, ambiguous := index.ambiguousTitles[normalizedTitle]; ambiguous {
		return
	}
	if existing, exists := index.titles[normalizedTitle]; exists && existing != targetID {
		delete(index.titles, normalizedTitle)
		index.ambiguousTitles[normalizedTitle] = struct{}{}
		return
	}
	index.titles[normalizedTitle] = targetID
}

// Lookup implements IdentifierLookup.
func (index *ReferenceIndex) Lookup(reference string) (fieldmap.RemoteIdentifier, bool) {
	normalizedReference := normalizeReference(reference)
	if len(normalizedReference) == 0 {
		return "", false
	}
	index.mutex.RLock()
	defer index.mutex.RUnlock()
	if identifier, exists := index.keys[normalizedReference]; exists {
		return identifier, true
	}
	identifier, exists := index.titles[fieldmap.NormalizeKey(reference)]
	return identifier, exists
}

// NumberKey renders an issue number as a reference key.
func NumberKey(number int) string {
	return numberedReferencePrefixConstant + strconv.Itoa(number)
}

// normalizeReference renders numeric references ("12", "#12", "#012") as NumberKey does
// and leaves every other reference trimmed.
func normalizeReference(reference string) string {
	trimmedReference := strings.TrimSpace(reference)
	digits := strings.TrimPrefix(trimmedReference, numberedReferencePrefixConstant)
	if number, numberError := strconv.Atoi(digits); numberError == nil && number >= 0 {
		return NumberKey(number)
	}
	return trimmedReference
}
