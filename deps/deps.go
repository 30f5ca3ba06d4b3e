// Package deps normalizes declared dependency manifests and derives the
// environment identity used to cache isolated runtimes.
package deps

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/deepnoodle-ai/forge"
	"github.com/zeebo/blake3"
)

// DefaultVersion is assumed when a requirement declares no constraint.
const DefaultVersion = ">= 0"

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.\-]*$`)

// Manifest is an ordered, de-duplicated dependency list. It is frozen once
// computed: callers treat it as a value.
type Manifest []forge.Requirement

// Normalize canonicalizes a declared requirement list: names are lowercased,
// versions default to DefaultVersion, entries are sorted by name and exact
// duplicates collapse. Two different version constraints for one name are a
// fatal manifest error.
func Normalize(declared []forge.Requirement) (Manifest, error) {
	versions := map[string]string{}
	for _, req := range declared {
		name := strings.ToLower(strings.TrimSpace(req.Name))
		if !namePattern.MatchString(name) {
			return nil, fmt.Errorf("invalid dependency name %q", req.Name)
		}
		version := strings.TrimSpace(req.Version)
		if version == "" {
			version = DefaultVersion
		}
		if existing, ok := versions[name]; ok && existing != version {
			return nil, fmt.Errorf("conflicting versions for %q: %q vs %q", name, existing, version)
		}
		versions[name] = version
	}
	manifest := make(Manifest, 0, len(versions))
	for name, version := range versions {
		manifest = append(manifest, forge.Requirement{Name: name, Version: version})
	}
	sort.Slice(manifest, func(i, j int) bool {
		return manifest[i].Name < manifest[j].Name
	})
	return manifest, nil
}

// Merge normalizes the union of an existing manifest and newly declared
// requirements. Additive merges succeed; a version conflict on any name
// fails the same way Normalize does.
func Merge(existing Manifest, declared []forge.Requirement) (Manifest, error) {
	combined := make([]forge.Requirement, 0, len(existing)+len(declared))
	combined = append(combined, existing...)
	combined = append(combined, declared...)
	return Normalize(combined)
}

// ID returns the environment identity for a manifest: a blake3 hash over
// its canonical JSON encoding. Equal manifests always share one id.
func (m Manifest) ID() string {
	encoded, err := json.Marshal(m)
	if err != nil {
		// Manifest is plain strings; this cannot fail.
		panic(fmt.Sprintf("encode manifest: %v", err))
	}
	canonical, err := jsoncanonicalizer.Transform(encoded)
	if err != nil {
		panic(fmt.Sprintf("canonicalize manifest: %v", err))
	}
	sum := blake3.Sum256(canonical)
	return hex.EncodeToString(sum[:16])
}

// Names returns the dependency names in manifest order.
func (m Manifest) Names() []string {
	names := make([]string, len(m))
	for i, req := range m {
		names[i] = req.Name
	}
	return names
}

// Policy restricts which dependencies may be materialized. A nil Policy
// allows everything. Deny wins over Allow; an empty Allow list allows all
// names not denied.
type Policy struct {
	Allow []string
	Deny  []string
}

// Check returns the first policy violation in the manifest, or nil. The
// check runs before environment materialization so a denied dependency is
// never installed.
func (p *Policy) Check(m Manifest) error {
	if p == nil {
		return nil
	}
	for _, req := range m {
		for _, denied := range p.Deny {
			if req.Name == denied {
				return fmt.Errorf("dependency %q is denied by policy", req.Name)
			}
		}
		if len(p.Allow) > 0 {
			allowed := false
			for _, name := range p.Allow {
				if req.Name == name {
					allowed = true
					break
				}
			}
			if !allowed {
				return fmt.Errorf("dependency %q is not in the policy allow list", req.Name)
			}
		}
	}
	return nil
}
