// SPDX-License-Identifier: MPL-2.0

package verify

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/moby/sys/user"

	"github.com/terraref/imgprov/internal/container"
)

// checkUser requires the configured user to be the recipe identity and not root.
func checkUser(info *container.ImageInfo, exp Expectation) Check {
	c := Check{Name: CheckUser}
	configured := info.Config.User
	name, _, _ := strings.Cut(configured, ":")

	switch {
	case name == "" || name == "0" || name == "root":
		c.Detail = fmt.Sprintf("image runs as root (User=%q)", configured)
	case name != strconv.Itoa(exp.User.UID) && name != exp.User.Name:
		c.Detail = fmt.Sprintf("image user %q is not %s (%d)", configured, exp.User.Name, exp.User.UID)
	default:
		c.Passed = true
		c.Detail = fmt.Sprintf("User=%s", configured)
	}
	return c
}

// checkEntrypointConfig requires exactly one entrypoint, the planned one.
func checkEntrypointConfig(info *container.ImageInfo, exp Expectation) Check {
	c := Check{Name: CheckEntrypointConfig}
	if slices.Equal(info.Config.Entrypoint, []string{exp.Entrypoint}) {
		c.Passed = true
		c.Detail = exp.Entrypoint
		return c
	}
	c.Detail = fmt.Sprintf("entrypoint is %q, want [%q]", info.Config.Entrypoint, exp.Entrypoint)
	return c
}

// checkSearchPath requires the search path variable to contain the planned
// directory and every component the base image already had.
func (v *Verifier) checkSearchPath(ctx context.Context, info *container.ImageInfo, exp Expectation) Check {
	c := Check{Name: CheckSearchPath}
	name := exp.SearchPath.Name

	value, ok := info.Env(name)
	if !ok {
		c.Detail = fmt.Sprintf("%s is not set", name)
		return c
	}
	components := splitPath(value)
	if !slices.Contains(components, exp.SearchPath.Dir) {
		c.Detail = fmt.Sprintf("%s=%q does not contain %s", name, value, exp.SearchPath.Dir)
		return c
	}

	if exp.BaseImage != "" {
		base, err := v.engine.InspectImage(ctx, exp.BaseImage)
		if err != nil {
			v.logger.Debug("base image not inspectable, skipping preserved components", "image", exp.BaseImage, "err", err)
		} else if prior, ok := base.Env(name); ok {
			for _, p := range splitPath(prior) {
				if !slices.Contains(components, p) {
					c.Detail = fmt.Sprintf("%s=%q dropped %q from the base image value", name, value, p)
					return c
				}
			}
		}
	}

	c.Passed = true
	c.Detail = fmt.Sprintf("%s=%s", name, value)
	return c
}

// checkEffectiveUID runs "id -u" as the image user.
func (v *Verifier) checkEffectiveUID(ctx context.Context, image string, exp Expectation) (Check, error) {
	out, err := v.exec(ctx, image, "id", "-u")
	if err != nil {
		return probeResult(CheckEffectiveUID, err)
	}
	c := Check{Name: CheckEffectiveUID}
	uid, err := strconv.Atoi(strings.TrimSpace(out))
	switch {
	case err != nil:
		c.Detail = fmt.Sprintf("unexpected id output %q", strings.TrimSpace(out))
	case uid == 0:
		c.Detail = "processes run with effective UID 0"
	case uid != exp.User.UID:
		c.Detail = fmt.Sprintf("effective UID is %d, want %d", uid, exp.User.UID)
	default:
		c.Passed = true
		c.Detail = fmt.Sprintf("uid=%d", uid)
	}
	return c, nil
}

// checkPasswd requires an /etc/passwd entry for the user with the fixed UID
// and the planned home directory.
func (v *Verifier) checkPasswd(ctx context.Context, image string, exp Expectation) (Check, error) {
	out, err := v.exec(ctx, image, "cat", "/etc/passwd")
	if err != nil {
		return probeResult(CheckPasswd, err)
	}
	c := Check{Name: CheckPasswd}
	users, err := user.ParsePasswd(strings.NewReader(out))
	if err != nil {
		c.Detail = fmt.Sprintf("unreadable /etc/passwd: %v", err)
		return c, nil
	}

	idx := slices.IndexFunc(users, func(u user.User) bool { return u.Name == exp.User.Name })
	if idx < 0 {
		c.Detail = fmt.Sprintf("no passwd entry for %s", exp.User.Name)
		return c, nil
	}
	u := users[idx]
	switch {
	case u.Uid != exp.User.UID:
		c.Detail = fmt.Sprintf("%s has UID %d, want %d", u.Name, u.Uid, exp.User.UID)
	case u.Gid != exp.User.GroupID():
		c.Detail = fmt.Sprintf("%s has GID %d, want %d", u.Name, u.Gid, exp.User.GroupID())
	case u.Home != exp.User.Home:
		c.Detail = fmt.Sprintf("%s has home %s, want %s", u.Name, u.Home, exp.User.Home)
	default:
		c.Passed = true
		c.Detail = fmt.Sprintf("%s:%d:%d:%s", u.Name, u.Uid, u.Gid, u.Home)
	}
	return c, nil
}

// checkEntrypoint requires the entrypoint to be owned by the user and
// executable by its owner.
func (v *Verifier) checkEntrypoint(ctx context.Context, image string, exp Expectation) (Check, error) {
	out, err := v.exec(ctx, image, "stat", "-c", "%u %a", exp.Entrypoint)
	if err != nil {
		return probeResult(CheckEntrypoint, err)
	}
	c := Check{Name: CheckEntrypoint}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		c.Detail = fmt.Sprintf("unexpected stat output %q", strings.TrimSpace(out))
		return c, nil
	}
	owner, err1 := strconv.Atoi(fields[0])
	mode, err2 := strconv.ParseUint(fields[1], 8, 32)
	switch {
	case err1 != nil || err2 != nil:
		c.Detail = fmt.Sprintf("unexpected stat output %q", strings.TrimSpace(out))
	case owner != exp.User.UID:
		c.Detail = fmt.Sprintf("%s is owned by UID %d, want %d", exp.Entrypoint, owner, exp.User.UID)
	case mode&0o100 == 0:
		c.Detail = fmt.Sprintf("%s has mode %o, owner cannot execute it", exp.Entrypoint, mode)
	default:
		c.Passed = true
		c.Detail = fmt.Sprintf("%s uid=%d mode=%o", exp.Entrypoint, owner, mode)
	}
	return c, nil
}

// checkOwnership requires every path under the home directory to belong to
// the user.
func (v *Verifier) checkOwnership(ctx context.Context, image string, exp Expectation) (Check, error) {
	out, err := v.exec(ctx, image, "find", exp.User.Home, "!", "-user", strconv.Itoa(exp.User.UID), "-print")
	if err != nil {
		return probeResult(CheckOwnership, err)
	}
	c := Check{Name: CheckOwnership}
	if foreign := strings.Fields(out); len(foreign) > 0 {
		c.Detail = fmt.Sprintf("%d path(s) not owned by %s, first: %s", len(foreign), exp.User.Name, foreign[0])
		return c, nil
	}
	c.Passed = true
	c.Detail = fmt.Sprintf("%s owned by %s", exp.User.Home, exp.User.Name)
	return c, nil
}

// splitPath splits a colon separated search path, dropping empty components.
func splitPath(value string) []string {
	var out []string
	for p := range strings.SplitSeq(value, ":") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
