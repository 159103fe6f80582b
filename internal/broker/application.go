package broker

import "sync"

// Application is one isolated tenant: credentials plus its own channel and
// connection registries. Channels with the same name in two applications are
// unrelated.
type Application struct {
	ID     string
	Key    string
	Secret string

	Channels    *ChannelRegistry
	Connections *ConnectionRegistry
}

// NewApplication builds a tenant with empty registries.
func NewApplication(id, key, secret string) *Application {
	return &Application{
		ID:          id,
		Key:         key,
		Secret:      secret,
		Channels:    NewChannelRegistry(),
		Connections: NewConnectionRegistry(),
	}
}

// ApplicationRegistry resolves applications by id and by key. Both indexes are
// kept in lockstep under one lock.
type ApplicationRegistry struct {
	mu    sync.RWMutex
	byID  map[string]*Application
	byKey map[string]*Application
}

func NewApplicationRegistry() *ApplicationRegistry {
	return &ApplicationRegistry{
		byID:  make(map[string]*Application),
		byKey: make(map[string]*Application),
	}
}

// Add registers an application. A duplicate id or key is rejected.
func (r *ApplicationRegistry) Add(app *Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[app.ID]; ok {
		return NewError(KindBadRequest, "application id %s already registered", app.ID)
	}
	if _, ok := r.byKey[app.Key]; ok {
		return NewError(KindBadRequest, "application key %s already registered", app.Key)
	}
	r.byID[app.ID] = app
	r.byKey[app.Key] = app
	return nil
}

// Get resolves an application by id.
func (r *ApplicationRegistry) Get(id string) (*Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.byID[id]
	if !ok {
		return nil, NewError(KindApplicationNotFound, "application %s not found", id)
	}
	return app, nil
}

// GetByKey resolves an application by its public key.
func (r *ApplicationRegistry) GetByKey(key string) (*Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.byKey[key]
	if !ok {
		return nil, NewError(KindApplicationNotFound, "application with key %s not found", key)
	}
	return app, nil
}

// Remove drops an application and both of its index entries.
func (r *ApplicationRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byKey, app.Key)
}

// All returns a snapshot of every registered application.
func (r *ApplicationRegistry) All() []*Application {
	r.mu.RLock()
	defer r.mu.RUnlock()
	apps := make([]*Application, 0, len(r.byID))
	for _, app := range r.byID {
		apps = append(apps, app)
	}
	return apps
}

// Len returns the number of registered applications.
func (r *ApplicationRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
