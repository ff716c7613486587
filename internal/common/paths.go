// Copyright 2024 ViewFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"net/url"
	"path"
	"strings"
)

// Root is the absolute root path
const Root = "/"

// CleanPath normalizes a path to an absolute, slash-delimited form without a
// trailing slash. ".." segments are collapsed and can never climb above root.
func CleanPath(p string) string {
	if p == "" {
		return Root
	}
	return path.Clean("/" + p)
}

// SplitPath splits a path into its components. Root yields nil.
func SplitPath(p string) []string {
	p = strings.TrimPrefix(CleanPath(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// JoinPath joins path components into a clean absolute path
func JoinPath(parts ...string) string {
	return CleanPath(path.Join(parts...))
}

// ParentPath returns the parent directory of a path. The parent of root is root.
func ParentPath(p string) string {
	return path.Dir(CleanPath(p))
}

// BaseName returns the last component of a path, or "" for root
func BaseName(p string) string {
	p = CleanPath(p)
	if p == Root {
		return ""
	}
	return path.Base(p)
}

// IsUnder reports whether p equals prefix or lies below it. Both paths are
// cleaned first.
func IsUnder(p, prefix string) bool {
	p = CleanPath(p)
	prefix = CleanPath(prefix)
	if prefix == Root || p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// StripPrefix removes prefix from p and returns the remainder as an absolute
// path. ok is false when p is not under prefix.
func StripPrefix(p, prefix string) (rest string, ok bool) {
	p = CleanPath(p)
	prefix = CleanPath(prefix)
	if !IsUnder(p, prefix) {
		return "", false
	}
	if prefix == Root {
		return p, true
	}
	return CleanPath(strings.TrimPrefix(p, prefix)), true
}

// PathKey canonicalizes an input that may be a bare path or a URI string
// ("scheme://authority/path"). It returns the authority-stripped absolute path
// along with the scheme and authority found (empty for bare paths).
func PathKey(raw string) (scheme, authority, p string, err error) {
	if !strings.Contains(raw, "://") {
		return "", "", CleanPath(raw), nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", err
	}
	return strings.ToLower(u.Scheme), strings.ToLower(u.Host), CleanPath(u.Path), nil
}

// Qualify renders a clean absolute path under the scheme and authority of base
func Qualify(base *url.URL, p string) string {
	u := url.URL{Scheme: base.Scheme, Host: base.Host, Path: CleanPath(p)}
	return u.String()
}

// URIPath returns the path part of a URI as a clean absolute path
func URIPath(u *url.URL) string {
	return CleanPath(u.Path)
}
