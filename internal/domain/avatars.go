package domain

// AvatarTraits are the economy modifiers an avatar grants its player.
type AvatarTraits struct {
	// CreditBonus is added on top of the base credit reward.
	CreditBonus int
	// StealMultiplier scales the amount a successful hack steals.
	StealMultiplier float64
	// DamageReduction is the fraction of a steal the avatar absorbs when hacked.
	DamageReduction float64
}

// avatarTraits maps avatar ids to their modifiers. Adding an avatar is a data
// change here; unknown avatars fall back to neutral traits.
var avatarTraits = map[string]AvatarTraits{
	"cipher":  {CreditBonus: 15, StealMultiplier: 1.0},
	"phantom": {StealMultiplier: 1.25},
	"warden":  {StealMultiplier: 1.0, DamageReduction: 0.30},
	"spark":   {CreditBonus: 5, StealMultiplier: 1.1},
}

// TraitsFor returns the traits for an avatar id. Unknown avatars contribute no
// bonus and no protection; the steal multiplier is always normalized to a
// neutral 1.0 when unset so it never zeroes a steal.
func TraitsFor(avatar string) AvatarTraits {
	traits, ok := avatarTraits[avatar]
	if !ok {
		return AvatarTraits{StealMultiplier: 1.0}
	}
	if traits.StealMultiplier == 0 {
		traits.StealMultiplier = 1.0
	}
	return traits
}
