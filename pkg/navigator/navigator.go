// Package navigator keeps the session's current remote container.
package navigator

import (
	"context"
	"errors"
	"strings"

	"github.com/joaooservit/oserv-cloud-storage/backend"
)

var ErrAtRoot = errors.New("already at the root folder")

// Position is where the session currently is. DisplayPath is "/" at the root
// and "/"-joined names with no trailing slash below it.
type Position struct {
	ContainerID string
	DisplayPath string
}

func (p Position) segments() []string {
	trimmed := strings.Trim(p.DisplayPath, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func (p Position) child(id, name string) Position {
	if p.DisplayPath == "/" {
		return Position{ContainerID: id, DisplayPath: "/" + name}
	}
	return Position{ContainerID: id, DisplayPath: p.DisplayPath + "/" + name}
}

type Navigator struct {
	remote backend.RemoteDirectory
	root   Position
	pos    Position
}

func New(remote backend.RemoteDirectory, rootID string) *Navigator {
	root := Position{ContainerID: rootID, DisplayPath: "/"}
	return &Navigator{remote: remote, root: root, pos: root}
}

func (n *Navigator) Position() Position { return n.pos }
func (n *Navigator) Pwd() string        { return n.pos.DisplayPath }
func (n *Navigator) AtRoot() bool       { return n.pos.DisplayPath == "/" }

func (n *Navigator) List(ctx context.Context) ([]backend.RemoteNode, error) {
	return n.remote.ListChildren(ctx, n.pos.ContainerID)
}

// Cd moves to target: a child name, "..", "/", or a "/"-separated path
// (absolute when it starts with "/"). Either every segment resolves or the
// position is left untouched.
func (n *Navigator) Cd(ctx context.Context, target string) error {
	next, err := n.Resolve(ctx, target)
	if err != nil {
		return err
	}
	n.pos = next
	return nil
}

// Resolve computes the position target would lead to without moving.
func (n *Navigator) Resolve(ctx context.Context, target string) (Position, error) {
	target = strings.TrimSpace(target)
	pos := n.pos
	if strings.HasPrefix(target, "/") {
		pos = n.root
	}
	for _, seg := range strings.Split(strings.Trim(target, "/"), "/") {
		var err error
		switch seg {
		case "", ".":
			continue
		case "..":
			pos, err = n.parent(ctx, pos)
		default:
			pos, err = n.descend(ctx, pos, seg)
		}
		if err != nil {
			return n.pos, err
		}
	}
	return pos, nil
}

func (n *Navigator) descend(ctx context.Context, from Position, name string) (Position, error) {
	children, err := n.remote.ListChildren(ctx, from.ContainerID)
	if err != nil {
		return from, err
	}
	for _, c := range children {
		if c.IsContainer && c.Name == name {
			return from.child(c.ID, c.Name), nil
		}
	}
	return from, &backend.NotFoundError{Name: name}
}

// parent walks down from the root again along all but the last segment.
// Container ids carry no parent link, so this costs one listing per level.
func (n *Navigator) parent(ctx context.Context, from Position) (Position, error) {
	segs := from.segments()
	if len(segs) == 0 {
		return from, ErrAtRoot
	}
	pos := n.root
	for _, seg := range segs[:len(segs)-1] {
		var err error
		if pos, err = n.descend(ctx, pos, seg); err != nil {
			return from, err
		}
	}
	return pos, nil
}
