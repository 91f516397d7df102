// Package membership tracks which cluster members are reachable.
//
// Each node probes its peers on a fixed interval. A failed probe moves a
// member from Alive to Suspect; a Suspect member that stays silent past the
// suspect timeout becomes Dead. Any successful probe, or an inbound ping
// from the member, brings it back to Alive. Only Alive members are offered
// to the replica provider.
//
// Membership is static: members come from configuration and are never
// discovered or removed at runtime.
package membership
