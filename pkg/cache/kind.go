package cache

import "fmt"

// StoreType tags one kind of cacheable entity. The set is closed: every kind a
// gateway session can cache has a tag here.
type StoreType int

const (
	StoreUsers StoreType = iota
	StoreGuilds
	StoreChannels
	StoreMembers
	StoreRoles
	StorePresences
	StoreMessages
	StoreThreadMembers
	StoreEmojis
	StoreStickers
	StoreVoiceStates
	StoreStageInstances
	StoreScheduledEvents

	storeTypeCount
)

var storeTypeNames = [...]string{
	StoreUsers:           "users",
	StoreGuilds:          "guilds",
	StoreChannels:        "channels",
	StoreMembers:         "members",
	StoreRoles:           "roles",
	StorePresences:       "presences",
	StoreMessages:        "messages",
	StoreThreadMembers:   "thread_members",
	StoreEmojis:          "emojis",
	StoreStickers:        "stickers",
	StoreVoiceStates:     "voice_states",
	StoreStageInstances:  "stage_instances",
	StoreScheduledEvents: "scheduled_events",
}

func (t StoreType) String() string {
	if t.Valid() {
		return storeTypeNames[t]
	}
	return fmt.Sprintf("StoreType(%d)", int(t))
}

// Valid reports whether t is one of the known store types.
func (t StoreType) Valid() bool {
	return t >= 0 && t < storeTypeCount
}
