package filetree

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/leafsync/leafsync/pkg/models"
	"github.com/leafsync/leafsync/pkg/protocol"
	"github.com/leafsync/leafsync/pkg/realtime"
)

// ListenerConfig holds the listener's dependencies.
type ListenerConfig struct {
	Tree      *Tree
	Selection *Selection
	// UserID is the local user. Entities this user creates are selected
	// when their creation event arrives.
	UserID string
	Logger *zap.Logger
}

// SocketListener applies the server's structural events to the tree and
// selection stores. Each event is handled against the stores as they are
// when it arrives. Lookup failures are returned to the channel and never
// swallowed.
type SocketListener struct {
	tree      *Tree
	selection *Selection
	userID    string
	log       *zap.Logger

	mu        sync.Mutex
	expecting string
}

// NewSocketListener creates a listener. It does nothing until mounted.
func NewSocketListener(cfg ListenerConfig) *SocketListener {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &SocketListener{
		tree:      cfg.Tree,
		selection: cfg.Selection,
		userID:    cfg.UserID,
		log:       cfg.Logger.Named("filetree"),
	}
}

// Handlers returns the event table: wire event name to handler.
func (l *SocketListener) Handlers() map[string]realtime.Handler {
	return map[string]realtime.Handler{
		protocol.EventEntityRename: l.handleRename,
		protocol.EventRemoveEntity: l.handleRemove,
		protocol.EventEntityMove:   l.handleMove,
		protocol.EventNewFolder:    l.handleNewFolder,
		protocol.EventNewDoc:       l.handleNewDoc,
		protocol.EventNewFile:      l.handleNewFile,
	}
}

// Mount registers every handler on ch and returns a function that
// deregisters them all. With no channel nothing is registered and the
// tree stays static.
func (l *SocketListener) Mount(ch realtime.Channel) (unmount func()) {
	if ch == nil {
		l.log.Info("no real-time channel, tree will not be synchronized")
		return func() {}
	}
	var offs []func()
	for event, h := range l.Handlers() {
		offs = append(offs, ch.On(event, h))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Resync replaces the tree with a fresh server snapshot and drops
// selected ids that no longer exist. Call it whenever the channel
// (re)connects, since events sent while disconnected are lost.
func (l *SocketListener) Resync(root *models.Folder) error {
	if err := l.tree.Reset(root); err != nil {
		return fmt.Errorf("resync tree: %w", err)
	}
	gone := l.selection.Prune()
	l.log.Info("tree resynchronized",
		zap.Int("entities", l.tree.Count()),
		zap.Strings("unselected", gone))
	return nil
}

// ExpectLinkedFileRefreshed records the name of a linked file whose
// refresh was just requested. When the replacement file arrives it is
// selected, so whoever was viewing the old file keeps viewing it.
func (l *SocketListener) ExpectLinkedFileRefreshed(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expecting = name
}

func (l *SocketListener) takeExpectation(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expecting == "" || l.expecting != name {
		return false
	}
	l.expecting = ""
	return true
}

func (l *SocketListener) selectIfCreatedByUser(entityID, userID string) {
	if l.userID != "" && l.userID == userID {
		l.selection.Select(entityID)
	}
}

// creatorAt returns the creating user's id from position i, or "" when the
// server left it out or sent something other than a string.
func creatorAt(args []json.RawMessage, i int) string {
	if i >= len(args) {
		return ""
	}
	var id string
	if json.Unmarshal(args[i], &id) != nil {
		return ""
	}
	return id
}

func (l *SocketListener) handleRename(args []json.RawMessage) error {
	var entityID, name string
	if err := realtime.DecodeArgs(args, &entityID, &name); err != nil {
		return err
	}
	l.log.Debug("rename", zap.String("id", entityID), zap.String("name", name))
	return l.tree.Rename(entityID, name)
}

func (l *SocketListener) handleRemove(args []json.RawMessage) error {
	var entityID string
	if err := realtime.DecodeArgs(args, &entityID); err != nil {
		return err
	}
	l.log.Debug("remove", zap.String("id", entityID))

	l.selection.Unselect(entityID)
	if l.selection.SelectedParentIDs().Has(entityID) {
		// a folder with selected descendants: unselect them before it goes
		for _, selectedID := range l.selection.SelectedIDs() {
			e, err := l.tree.FindOrErr(selectedID)
			if err != nil {
				return err
			}
			if slices.Contains(e.Path, entityID) {
				l.selection.Unselect(selectedID)
			}
		}
	}
	return l.tree.Delete(entityID)
}

func (l *SocketListener) handleMove(args []json.RawMessage) error {
	var entityID, toFolderID string
	if err := realtime.DecodeArgs(args, &entityID, &toFolderID); err != nil {
		return err
	}
	l.log.Debug("move", zap.String("id", entityID), zap.String("to", toFolderID))
	return l.tree.Move(entityID, toFolderID)
}

func (l *SocketListener) handleNewFolder(args []json.RawMessage) error {
	var parentID string
	var folder models.Folder
	if err := realtime.DecodeArgs(args, &parentID, &folder); err != nil {
		return err
	}
	userID := creatorAt(args, 2)
	l.log.Debug("new folder", zap.String("parent", parentID), zap.String("id", folder.ID))
	if err := l.tree.CreateFolder(parentID, &folder); err != nil {
		return err
	}
	l.selectIfCreatedByUser(folder.ID, userID)
	return nil
}

func (l *SocketListener) handleNewDoc(args []json.RawMessage) error {
	var parentID string
	var doc models.Doc
	if err := realtime.DecodeArgs(args, &parentID, &doc); err != nil {
		return err
	}
	userID := creatorAt(args, 3)
	l.log.Debug("new doc", zap.String("parent", parentID), zap.String("id", doc.ID))
	if err := l.tree.CreateDoc(parentID, &doc); err != nil {
		return err
	}
	l.selectIfCreatedByUser(doc.ID, userID)
	return nil
}

func (l *SocketListener) handleNewFile(args []json.RawMessage) error {
	var parentID string
	var file models.File
	if err := realtime.DecodeArgs(args, &parentID, &file); err != nil {
		return err
	}
	var linked *models.LinkedFileData
	if len(args) > 3 {
		// best effort: the file payload normally carries this itself
		if err := realtime.DecodeArgs(args, nil, nil, nil, &linked); err != nil {
			l.log.Debug("ignoring malformed linked file data",
				zap.ByteString("data", args[3]), zap.Error(err))
			linked = nil
		}
	}
	userID := creatorAt(args, 4)
	if file.LinkedFileData == nil {
		file.LinkedFileData = linked
	}
	l.log.Debug("new file", zap.String("parent", parentID), zap.String("id", file.ID))
	if err := l.tree.CreateFile(parentID, &file); err != nil {
		return err
	}
	l.selectIfCreatedByUser(file.ID, userID)
	if l.takeExpectation(file.Name) {
		l.log.Info("linked file refreshed", zap.String("name", file.Name), zap.String("id", file.ID))
		l.selection.Select(file.ID)
	}
	return nil
}
