package lifecycle

import (
	"github.com/wippyai/scriptbridge/errors"
)

// Assigner decides which context an attachment runs in. Attachments
// mapped to the same key share one context.
type Assigner interface {
	Name() string
	Assign(a Attachment) ContextKey
}

// SharedAssigner runs every attachment in one context per language.
type SharedAssigner struct{}

func (SharedAssigner) Name() string                 { return "shared" }
func (SharedAssigner) Assign(Attachment) ContextKey { return ContextKey{Shared: true} }

// PerEntityAssigner gives each entity its own context.
type PerEntityAssigner struct{}

func (PerEntityAssigner) Name() string { return "per_entity" }
func (PerEntityAssigner) Assign(a Attachment) ContextKey {
	return ContextKey{Entity: a.Entity}
}

// PerDomainAssigner gives each domain its own context.
type PerDomainAssigner struct{}

func (PerDomainAssigner) Name() string { return "per_domain" }
func (PerDomainAssigner) Assign(a Attachment) ContextKey {
	return ContextKey{Domain: a.Domain}
}

// PerScriptAssigner shares one context between all attachments of a script.
type PerScriptAssigner struct{}

func (PerScriptAssigner) Name() string { return "per_script" }
func (PerScriptAssigner) Assign(a Attachment) ContextKey {
	return ContextKey{Script: a.Script}
}

// PerAttachmentAssigner gives every attachment a context of its own.
type PerAttachmentAssigner struct{}

func (PerAttachmentAssigner) Name() string { return "per_attachment" }
func (PerAttachmentAssigner) Assign(a Attachment) ContextKey {
	return ContextKey{Entity: a.Entity, Script: a.Script, Domain: a.Domain}
}

// AssignerNames lists the names accepted by AssignerByName.
var AssignerNames = []string{"shared", "per_entity", "per_domain", "per_script", "per_attachment"}

// AssignerByName returns the assigner for a configuration name. The empty
// name selects PerAttachmentAssigner.
func AssignerByName(name string) (Assigner, error) {
	switch name {
	case "shared":
		return SharedAssigner{}, nil
	case "per_entity":
		return PerEntityAssigner{}, nil
	case "per_domain":
		return PerDomainAssigner{}, nil
	case "per_script":
		return PerScriptAssigner{}, nil
	case "per_attachment", "":
		return PerAttachmentAssigner{}, nil
	default:
		return nil, errors.NotFound(errors.PhaseLifecycle, "assigner", name)
	}
}
