package model

// Local-only fields.
//
// Track.Muted and Track.Soloed are "my ears, my control": each client owns
// its own copy and the coordinator never sees or stores a value for them
// (they are not part of any mutate op and are excluded from canonhash). A
// session loaded fresh from persistence or from a coordinator snapshot
// always has Muted and Soloed false on every track; callers on the client
// side must reapply their local values by track id after every snapshot
// (internal/clientsync does this). Any code that lets a coordinator-sourced
// write touch these two fields is a bug.
