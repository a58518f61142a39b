package core

import (
	"context"
	"fmt"

	"github.com/sapcc/go-bits/logg"

	"github.com/apricot-ldap/apricot/internal/idp"
)

// AdaptorConfig holds the feature toggles and identifiers that steer the
// data adaptor algorithm.
type AdaptorConfig struct {
	RootDN                      string
	Domain                      string
	EnablePrimaryGroups         bool
	EnableMirroredGroups        bool
	EnableUserDomainVerification bool
}

// record is the mutable working representation the adaptor builds up
// before handing a record to the schema validator; its keys match the
// field names the validator (schema.go) expects.
type record struct {
	fields  map[string]any
	classes []string
}

// Adapt runs the full data-adaptor algorithm: it normalizes
// raw IdP records, synthesizes primary and mirror groups, computes
// bidirectional membership, applies domain filtering, and validates every
// record against its required object classes. Invalid or filtered records
// are dropped with a logged diagnostic; Adapt never aborts because of a
// single bad record.
func Adapt(ctx context.Context, client idp.Client, allocator Allocator, cfg AdaptorConfig) (groups, users []*AttributeMap, err error) {
	rawGroups, err := client.Groups(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing groups from idp: %w", err)
	}
	rawUsers, err := client.Users(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing users from idp: %w", err)
	}

	groupRecords := make([]*record, 0, len(rawGroups))
	for _, g := range rawGroups {
		gidNumber := g.GIDNumber
		if gidNumber <= 0 {
			var allocErr error
			gidNumber, allocErr = GetUID(allocator, g.OAuthID, "group", MinGroupGID)
			if allocErr != nil {
				logg.Info("adaptor: dropping group %s: %s", g.OAuthID, allocErr)
				continue
			}
		} else if err := OverwriteUID(allocator, g.OAuthID, "group", gidNumber); err != nil {
			logg.Info("adaptor: dropping group %s: %s", g.OAuthID, err)
			continue
		}
		members := make([]string, len(g.MemberUID))
		for i, cn := range g.MemberUID {
			members[i] = UserDN(cn, cfg.RootDN)
		}
		groupRecords = append(groupRecords, &record{
			fields: map[string]any{
				"cn":          g.CN,
				"description": g.Description,
				"gidNumber":   gidNumber,
				"oauth_id":    g.OAuthID,
				"member":      members,
				"memberUid":   g.MemberUID,
			},
			classes: []string{"groupOfNames", "posixGroup", "memberOf", "oauthEntry"},
		})
	}

	writeBacker, _ := client.(idp.UIDWriteBacker)

	userRecords := make([]*record, 0, len(rawUsers))
	for _, u := range rawUsers {
		uidNumber, gidNumber, allocated, allocErr := resolveUserIDs(allocator, u)
		if allocErr != nil {
			logg.Info("adaptor: dropping user %s: %s", u.OAuthID, allocErr)
			continue
		}
		if allocated && writeBacker != nil {
			if err := writeBacker.WriteBackUID(ctx, u.OAuthID, uidNumber, gidNumber); err != nil {
				logg.Error("adaptor: writing back allocated uid/gid for %s: %s", u.OAuthID, err)
			}
		}
		userRecords = append(userRecords, &record{
			fields: map[string]any{
				"cn":             u.CN,
				"sn":             u.SN,
				"uid":            u.CN,
				"uidNumber":      uidNumber,
				"gidNumber":      gidNumber,
				"homeDirectory":  u.HomeDirectory,
				"displayName":    u.DisplayName,
				"givenName":      u.GivenName,
				"mail":           u.Mail,
				"description":    u.Description,
				"domain":         u.Domain,
				"oauth_id":       u.OAuthID,
				"oauth_username": u.OAuthUsername,
			},
			classes: []string{"inetOrgPerson", "posixAccount", "memberOf", "oauthEntry"},
		})
	}

	if cfg.EnablePrimaryGroups {
		for _, u := range userRecords {
			groupRecords = append(groupRecords, &record{
				fields: map[string]any{
					"cn":          u.fields["cn"],
					"description": u.fields["description"],
					"gidNumber":   u.fields["gidNumber"],
					"member":      []string{UserDN(u.fields["cn"].(string), cfg.RootDN)},
					"memberUid":   []string{u.fields["cn"].(string)},
				},
				classes: []string{"groupOfNames", "posixGroup", "memberOf"},
			})
		}
	}

	if cfg.EnableMirroredGroups && cfg.EnablePrimaryGroups {
		mirrors := make([]*record, 0, len(rawGroups))
		for _, g := range rawGroups {
			member := make([]string, len(g.MemberUID))
			for i, cn := range g.MemberUID {
				member[i] = AsGroupMemberDN(UserDN(cn, cfg.RootDN))
			}
			mirrors = append(mirrors, &record{
				fields: map[string]any{
					"cn":          "Primary user groups for " + g.CN,
					"description": "Mirrors the membership of " + g.CN + " as a group of groups",
					"member":      member,
					"memberUid":   []string{},
				},
				classes: []string{"groupOfNames", "memberOf"},
			})
		}
		groupRecords = append(groupRecords, mirrors...)
	}

	computeMemberOf(groupRecords, userRecords, cfg.RootDN)

	if cfg.EnableUserDomainVerification {
		filtered := userRecords[:0]
		for _, u := range userRecords {
			if u.fields["domain"] != cfg.Domain {
				logg.Info("adaptor: dropping user %s: domain %q does not match configured domain %q", u.fields["oauth_id"], u.fields["domain"], cfg.Domain)
				continue
			}
			filtered = append(filtered, u)
		}
		userRecords = filtered
	}

	groups = validateAll(groupRecords)
	users = validateAll(userRecords)
	return groups, users, nil
}

// resolveUserIDs returns a user's uidNumber/gidNumber, taking the IdP's
// own assertion when present and otherwise consulting the UID allocator
// for both the user's own category and its private primary-group
// category. An asserted value is installed into the allocator via
// OverwriteUID before it is returned, so that a later allocation in the
// same category can never collide with it. allocated reports whether
// either value was freshly allocated rather than IdP-asserted, so the
// caller knows whether it's worth writing the pair back to the IdP.
func resolveUserIDs(allocator Allocator, u idp.User) (uidNumber, gidNumber int, allocated bool, err error) {
	if u.UIDNumber > 0 {
		uidNumber = u.UIDNumber
		if err = OverwriteUID(allocator, u.OAuthID, "user", uidNumber); err != nil {
			return 0, 0, false, err
		}
	} else {
		uidNumber, err = GetUID(allocator, u.OAuthID, "user", MinUserUID)
		if err != nil {
			return 0, 0, false, err
		}
		allocated = true
	}
	if u.GIDNumber > 0 {
		gidNumber = u.GIDNumber
		if err = OverwriteUID(allocator, u.OAuthID, "group", gidNumber); err != nil {
			return 0, 0, false, err
		}
	} else {
		gidNumber, err = GetUID(allocator, u.OAuthID, "group", MinGroupGID)
		if err != nil {
			return 0, 0, false, err
		}
		allocated = true
	}
	return uidNumber, gidNumber, allocated, nil
}

// computeMemberOf fills in each record's memberOf as the transpose of
// member over the union of every group record (original, primary, and
// mirror) produced so far.
func computeMemberOf(groupRecords, userRecords []*record, rootDN string) {
	for _, u := range userRecords {
		userDN := UserDN(u.fields["cn"].(string), rootDN)
		u.fields["memberOf"] = memberOfDNs(groupRecords, rootDN, userDN)
	}
	for _, g := range groupRecords {
		groupDN := GroupDN(g.fields["cn"].(string), rootDN)
		g.fields["memberOf"] = memberOfDNs(groupRecords, rootDN, groupDN)
	}
}

func memberOfDNs(groupRecords []*record, rootDN, targetDN string) []string {
	var result []string
	for _, g := range groupRecords {
		members, _ := g.fields["member"].([]string)
		for _, m := range members {
			if m == targetDN {
				result = append(result, GroupDN(g.fields["cn"].(string), rootDN))
				break
			}
		}
	}
	return result
}

// validateAll runs every record through the schema validator, dropping
// any that fail, and preserves ingestion order among the survivors.
func validateAll(records []*record) []*AttributeMap {
	result := make([]*AttributeMap, 0, len(records))
	for _, r := range records {
		attrs, errs := Validate(r.fields, r.classes)
		if !errs.IsEmpty() {
			for _, fieldErr := range errs {
				logg.Info("adaptor: dropping record %v: %s", r.fields["oauth_id"], fieldErr)
			}
			continue
		}
		result = append(result, attrs)
	}
	return result
}
