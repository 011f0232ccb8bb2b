// Package provider defines the platform provider interfaces the domain
// handlers consume. Each target platform implements them once against its
// native APIs (content resolvers, package managers, shells); this package
// also ships a local filesystem/shell implementation and in-memory PIM
// implementations used on desktop builds and in tests.
package provider

import (
	"context"
	"errors"
	"io"
)

// ErrUnsupported is returned by optional operations a platform does not
// implement (e.g. screenshots on headless builds).
var ErrUnsupported = errors.New("provider: operation not supported on this platform")

// FileInfo describes one filesystem entry.
type FileInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	IsDir    bool   `json:"is_dir"`
	Size     int64  `json:"size"`
	Modified int64  `json:"modified"` // epoch milliseconds
	Readable bool   `json:"readable"`
	Writable bool   `json:"writable"`
}

// StorageInfo describes one storage volume.
type StorageInfo struct {
	Path  string `json:"path"`
	Label string `json:"label"`
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
	Used  uint64 `json:"used"`
}

// Files provides filesystem operations within the platform sandbox.
// Implementations must reject paths that escape their sandbox root.
type Files interface {
	List(path string) ([]FileInfo, error)
	Stat(path string) (FileInfo, error)
	Exists(path string) (bool, error)

	// Open returns the file contents for streaming reads.
	Open(path string) (io.ReadCloser, FileInfo, error)

	// Write streams r into path, creating parent directories.
	Write(path string, r io.Reader) (int64, error)

	Mkdir(path string) error

	// Delete removes path, recursively for directories.
	Delete(path string) error

	// Hash returns the lowercase hex SHA-256 of the file contents.
	Hash(path string) (string, error)

	// Search walks root depth-first matching names against pattern
	// (substring, or regular expression when regex is true), returning at
	// most limit entries.
	Search(root, pattern string, regex bool, limit int) ([]FileInfo, error)

	// Storage reports the volumes backing the sandbox.
	Storage() ([]StorageInfo, error)
}

// AppInfo describes an installed package.
type AppInfo struct {
	Package     string   `json:"package"`
	Label       string   `json:"label"`
	VersionName string   `json:"version_name"`
	VersionCode int64    `json:"version_code"`
	TargetSDK   int      `json:"target_sdk"`
	SourceDir   string   `json:"source_dir"`
	SplitDirs   []string `json:"split_dirs,omitempty"`
	System      bool     `json:"system"`
}

// DataPath describes one accessible per-package data directory.
type DataPath struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Apps provides package-manager operations.
type Apps interface {
	List(thirdPartyOnly bool) ([]AppInfo, error)
	Info(pkg string) (AppInfo, error)
	Install(apk io.Reader) error
	Uninstall(pkg string) error
	DataPaths(pkg string) ([]DataPath, error)
}

// LabeledValue is a phone number or email with its label.
type LabeledValue struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// Contact is one address book entry.
type Contact struct {
	Name         string         `json:"name"`
	Phones       []LabeledValue `json:"phones,omitempty"`
	Emails       []LabeledValue `json:"emails,omitempty"`
	Organization string         `json:"organization,omitempty"`
}

// Contacts provides address-book access.
type Contacts interface {
	List() ([]Contact, error)

	// Insert adds a single contact. Importers call it per entry so
	// failures can be reported per entry.
	Insert(c Contact) error
}

// Message is one SMS record.
type Message struct {
	ID       int64  `json:"id"`
	ThreadID int64  `json:"thread_id"`
	Address  string `json:"address"`
	Body     string `json:"body"`
	Date     int64  `json:"date"` // epoch milliseconds
	Sent     bool   `json:"sent"`
	Read     bool   `json:"read"`
}

// Conversation groups messages by thread.
type Conversation struct {
	ThreadID     int64  `json:"thread_id"`
	Address      string `json:"address"`
	MessageCount int    `json:"message_count"`
	LastDate     int64  `json:"last_date"`
	Snippet      string `json:"snippet"`
}

// SMS provides message-store access.
type SMS interface {
	List(limit, offset int) ([]Message, error)
	Count() (int, error)
	Conversations() ([]Conversation, error)

	// Insert adds a single message; importers call it per entry.
	Insert(m Message) error
}

// ExecResult is the outcome of a shell command.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Shell runs commands through the platform shell.
type Shell interface {
	// Exec runs command and waits for completion or context cancellation.
	Exec(ctx context.Context, command string) (ExecResult, error)

	// ExecStream runs command and returns its stdout as a stream. The
	// stream closes when the command exits or ctx is cancelled.
	ExecStream(ctx context.Context, command string) (io.ReadCloser, error)

	// Getprop reads a system property. Empty name returns all properties
	// in "name=value" lines.
	Getprop(name string) (string, error)

	// SettingsGet and SettingsPut access platform settings namespaces.
	SettingsGet(namespace, key string) (string, error)
	SettingsPut(namespace, key, value string) error
}

// BatteryInfo describes the battery state.
type BatteryInfo struct {
	Level    int  `json:"level"` // percent
	Charging bool `json:"charging"`
}

// InterfaceInfo describes one network interface.
type InterfaceInfo struct {
	Name  string   `json:"name"`
	Addrs []string `json:"addrs"`
	Up    bool     `json:"up"`
}

// Device provides read-only device introspection.
type Device interface {
	Info() (map[string]string, error)
	Battery() (BatteryInfo, error)
	Network() ([]InterfaceInfo, error)
	Storage() ([]StorageInfo, error)
	Props() (map[string]string, error)
	Permissions() (map[string]bool, error)

	// Screenshot returns a PNG snapshot, or ErrUnsupported.
	Screenshot() ([]byte, error)
}

// Security exposes the platform security posture checks pairing depends on.
type Security interface {
	// ScreenLockEnabled reports whether the device has a screen lock.
	// Pairing approval is refused on devices without one.
	ScreenLockEnabled() bool
}

// Set bundles the providers the handlers consume. Nil members disable the
// corresponding domain (requests return 404).
type Set struct {
	Files    Files
	Apps     Apps
	Contacts Contacts
	SMS      SMS
	Shell    Shell
	Device   Device
	Security Security
}
