package com

import "github.com/rs/xid"

// Uid identifies a connected host client.
type Uid struct {
	xid.ID
}

func NewUid() Uid { return Uid{xid.New()} }

func (u Uid) IsEmpty() bool { return u.IsNil() }
func (u Uid) Short() string { s := u.String(); return s[:3] + "." + s[len(s)-3:] }
