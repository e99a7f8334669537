package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// sessionState is the serialized browser session: cookies plus per-origin
// web storage. Written on successful HITL resumption, loaded at run start
// when present.
type sessionState struct {
	URL            string                `json:"url"`
	Cookies        []*proto.NetworkCookie `json:"cookies"`
	LocalStorage   string                `json:"local_storage"`
	SessionStorage string                `json:"session_storage"`
}

// StorageStateSave snapshots cookies and storage to a JSON file.
func (d *Driver) StorageStateSave(ctx context.Context, path string) error {
	p, err := d.livePage(ctx, d.cfg.ActionTimeout())
	if err != nil {
		return err
	}

	cookiesRes, err := proto.NetworkGetCookies{}.Call(p)
	if err != nil {
		return fmt.Errorf("get cookies: %w", err)
	}
	info, err := p.Info()
	if err != nil {
		return fmt.Errorf("page info: %w", err)
	}

	state := sessionState{
		URL:            info.URL,
		Cookies:        cookiesRes.Cookies,
		LocalStorage:   snapshotStorage(p, "localStorage"),
		SessionStorage: snapshotStorage(p, "sessionStorage"),
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// StorageStateLoad restores cookies immediately and web storage against the
// current origin. Callers should navigate to the target origin first so the
// storage restore lands where it was captured.
func (d *Driver) StorageStateLoad(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var state sessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse session state: %w", err)
	}

	p, err := d.livePage(ctx, d.cfg.ActionTimeout())
	if err != nil {
		return err
	}

	params := make([]*proto.NetworkCookieParam, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite,
			Priority: c.Priority,
		})
	}
	if len(params) > 0 {
		if err := p.SetCookies(params); err != nil {
			return fmt.Errorf("set cookies: %w", err)
		}
	}

	restoreStorage(p, state.LocalStorage, state.SessionStorage)
	return nil
}

func snapshotStorage(p *rod.Page, store string) string {
	js := fmt.Sprintf(`() => {
		try {
			const out = {};
			for (const key of Object.keys(%s)) out[key] = %s.getItem(key);
			return JSON.stringify(out);
		} catch (e) {
			return "{}";
		}
	}`, store, store)

	res, err := p.Eval(js)
	if err != nil || res == nil || res.Value.Nil() {
		return "{}"
	}
	return res.Value.Str()
}

func restoreStorage(p *rod.Page, localJSON, sessionJSON string) {
	_, _ = p.Eval(`(local, session) => {
		try {
			Object.entries(JSON.parse(local || "{}")).forEach(([k, v]) => localStorage.setItem(k, v));
		} catch (e) {}
		try {
			Object.entries(JSON.parse(session || "{}")).forEach(([k, v]) => sessionStorage.setItem(k, v));
		} catch (e) {}
	}`, localJSON, sessionJSON)
}
