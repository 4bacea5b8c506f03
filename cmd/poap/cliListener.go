package main

import (
	"fmt"

	"github.com/eiannone/keyboard"

	"poap/engine/actors"
	"poap/state"
)

// cliListener is a cheap and nasty way to speed up development cycles. It
// listens for keypresses and executes commands.
func cliListener(interrupt chan struct{}, store *state.Store) {
	fmt.Println("VIEW CURRENT STATE:\ni: issuers\nb: badges\na: awards\nc: engine config\nq: to quit\nSee cliListener.go for more")
	for {
		r, k, err := keyboard.GetSingleKey()
		if err != nil {
			panic(err)
		}
		str := string(r)
		switch str {
		default:
			if k == 13 {
				fmt.Println("\n-----------------------------------")
				break
			}
			if r == 0 {
				break
			}
			fmt.Println("Key " + str + " is not bound to any test procedures. See main.cliListener for more details.")
		case "q":
			close(interrupt)
			return
		case "c":
			fmt.Println("CURRENT CONFIG")
			for key, v := range actors.MakeOrGetConfig().AllSettings() {
				fmt.Printf("\nKey: %s; Value: %v\n", key, v)
			}
		case "i":
			keys, err := store.GetIssuerPublicKeys()
			if err != nil {
				fmt.Println(err)
				break
			}
			for _, pk := range keys {
				issuer, err := store.GetIssuerByPublicKey(pk)
				if err != nil || issuer == nil {
					continue
				}
				fmt.Printf("\nISSUER: %s\nPublic Key: %s\nUser: %s\n", issuer.ID, issuer.PublicKey, issuer.UserID)
			}
		case "b":
			keys, err := store.GetIssuerPublicKeys()
			if err != nil {
				fmt.Println(err)
				break
			}
			for _, pk := range keys {
				issuer, _ := store.GetIssuerByPublicKey(pk)
				if issuer == nil {
					continue
				}
				badges, _ := store.GetBadges(issuer.ID)
				for _, badge := range badges {
					fmt.Printf("\nBADGE: %s\nName: %s\nGeohash: %s\nLast event: %s at %d\n",
						badge.ID, badge.Name, badge.Geohash, badge.EventID, badge.EventCreatedAt)
				}
			}
		case "a":
			keys, err := store.GetIssuerPublicKeys()
			if err != nil {
				fmt.Println(err)
				break
			}
			for _, pk := range keys {
				issuer, _ := store.GetIssuerByPublicKey(pk)
				if issuer == nil {
					continue
				}
				awards, _ := store.GetAwards(issuer.ID)
				for _, award := range awards {
					fmt.Printf("\nAWARD: %s\nBadge: %s\nClaimed by: %s\nLast event: %s at %d\n",
						award.ID, award.BadgeID, award.ClaimPubkey, award.EventID, award.EventCreatedAt)
				}
			}
		}
	}
}
