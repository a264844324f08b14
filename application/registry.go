package application

import (
	"sort"
	"sync"

	"csmbot/domain/entities"
	"csmbot/domain/services"
)

// Registry is the process-wide state shared by the event dispatcher and the
// reconciliation worker: configured guilds, active setup dialogs and the guilds
// the bot already belonged to at startup.
// Properties handed out are copies; callers write back through the methods.
type Registry struct {
	mu sync.Mutex

	properties    map[int64]*entities.GuildProperty
	pending       map[int64]struct{} // guilds with in-memory changes not yet persisted
	wizards       map[int64]*services.SetupWizard
	startupGuilds map[int64]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		properties:    make(map[int64]*entities.GuildProperty),
		pending:       make(map[int64]struct{}),
		wizards:       make(map[int64]*services.SetupWizard),
		startupGuilds: make(map[int64]struct{}),
	}
}

// Load replaces the configured guilds with the records read from the store
func (r *Registry) Load(properties []*entities.GuildProperty) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.properties = make(map[int64]*entities.GuildProperty, len(properties))
	r.pending = make(map[int64]struct{})
	for _, p := range properties {
		r.properties[p.GuildID] = p.Clone()
	}
}

// AddProperty registers a freshly persisted guild, replacing any stale copy
func (r *Registry) AddProperty(property *entities.GuildProperty) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.properties[property.GuildID] = property.Clone()
	delete(r.pending, property.GuildID)
}

// Property returns a copy of the guild's property
func (r *Registry) Property(guildID int64) (*entities.GuildProperty, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.properties[guildID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// HasProperty reports whether the guild is configured
func (r *Registry) HasProperty(guildID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.properties[guildID]
	return ok
}

// Properties returns copies of every configured guild in ascending guild ID order
func (r *Registry) Properties() []*entities.GuildProperty {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*entities.GuildProperty, 0, len(r.properties))
	for _, p := range r.properties {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GuildID < out[j].GuildID
	})
	return out
}

// RecordChanges merges resource ids found by reconciliation and marks the guild pending
func (r *Registry) RecordChanges(property *entities.GuildProperty) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.properties[property.GuildID]
	if !ok {
		return
	}
	current.MergeFrom(property)
	r.pending[property.GuildID] = struct{}{}
}

// IsPending reports whether the guild has changes waiting to be persisted
func (r *Registry) IsPending(guildID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.pending[guildID]
	return ok
}

// MarkPersisted clears the pending flag of the given guilds
func (r *Registry) MarkPersisted(guildIDs []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range guildIDs {
		delete(r.pending, id)
	}
}

// Wizard returns the active setup dialog of the guild
func (r *Registry) Wizard(guildID int64) (*services.SetupWizard, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.wizards[guildID]
	return w, ok
}

// AddWizard registers a setup dialog unless one already runs for the guild.
// It returns the dialog that is active afterwards.
func (r *Registry) AddWizard(wizard *services.SetupWizard) *services.SetupWizard {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.wizards[wizard.GuildID()]; ok {
		return existing
	}
	r.wizards[wizard.GuildID()] = wizard
	return wizard
}

// RemoveWizard discards the guild's setup dialog
func (r *Registry) RemoveWizard(guildID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.wizards, guildID)
}

// ActiveWizards returns the number of running setup dialogs
func (r *Registry) ActiveWizards() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.wizards)
}

// SetStartupGuilds records the guilds delivered with the initial gateway payload
func (r *Registry) SetStartupGuilds(guildIDs []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.startupGuilds = make(map[int64]struct{}, len(guildIDs))
	for _, id := range guildIDs {
		r.startupGuilds[id] = struct{}{}
	}
}

// IsStartupGuild reports whether the bot was already in the guild when it connected
func (r *Registry) IsStartupGuild(guildID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.startupGuilds[guildID]
	return ok
}

// ForgetStartupGuild drops the guild from the startup set once the bot has left it
func (r *Registry) ForgetStartupGuild(guildID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.startupGuilds, guildID)
}
