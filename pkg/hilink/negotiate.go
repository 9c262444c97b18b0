package hilink

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

const tokenLength = 32

// negotiate obtains the initial session cookie and verification token and
// detects the firmware generation.
func (s *Session) negotiate(ctx context.Context) error {
	// only the cookie of the root page matters; some firmware answers it with 404
	if _, err := s.do(ctx, http.MethodGet, pathRoot, nil); err != nil {
		if !isHTTPStatus(err) {
			return err
		}
		s.logger.Debug().Err(err).Msg("root page status ignored")
	}

	apiErr := s.negotiateTokenAPI(ctx)
	if apiErr == nil {
		return nil
	}
	s.logger.Debug().Err(apiErr).Msg("token endpoint unavailable, trying csrf meta tag")

	pageErr := s.negotiateCSRFPage(ctx)
	if pageErr == nil {
		return nil
	}
	if IsTransport(pageErr) {
		return pageErr
	}
	return &ProtocolError{Op: "negotiate", Err: errors.New("no verification token available")}
}

// negotiateTokenAPI handles web UI 10 and 21 firmware.
func (s *Session) negotiateTokenAPI(ctx context.Context) error {
	resp, err := s.call(ctx, http.MethodGet, pathToken, nil)
	if err != nil {
		return err
	}
	token := resp.Get("token", "")
	if token == "" {
		return &ProtocolError{Op: pathToken, Err: errors.New("response has no token")}
	}
	s.setToken(lastChars(token, tokenLength))
	s.setGeneration(Gen10)

	info, err := s.call(ctx, http.MethodGet, pathBasicInformation, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("basic information unavailable, assuming web UI 10")
		return nil
	}
	if strings.Contains(info.Get("WebUIVersion", ""), "21.") {
		s.setGeneration(Gen21)
	}
	return nil
}

// negotiateCSRFPage handles web UI 17 firmware, which embeds the token in the home page.
func (s *Session) negotiateCSRFPage(ctx context.Context) error {
	page, err := s.do(ctx, http.MethodGet, pathHomePage, nil)
	if err != nil {
		return err
	}
	token := csrfToken(page)
	if token == "" {
		return &ProtocolError{Op: pathHomePage, Err: errors.New("csrf_token meta tag not found")}
	}
	s.setToken(token)
	s.setGeneration(Gen17)
	return nil
}

// detectLoginRequired queries the login mode and device class. Transport
// errors are returned; other failures of the check leave login optional.
func (s *Session) detectLoginRequired(ctx context.Context) error {
	resp, err := s.call(ctx, http.MethodGet, pathHiLinkLogin, nil)
	if err != nil {
		if IsTransport(err) {
			return err
		}
		s.logger.Warn().Err(err).Msg("could not check login requirement")
		s.setLoginRequired(false)
		return nil
	}
	if !resp.Has("hilink_login") {
		s.setLoginRequired(false)
		return nil
	}
	required := resp.Get("hilink_login", "0") == "1"

	info, err := s.call(ctx, http.MethodGet, pathBasicInformation, nil)
	if err != nil {
		if IsTransport(err) {
			return err
		}
		s.logger.Warn().Err(err).Msg("could not read device class")
	} else {
		switch strings.ToUpper(info.Get("classify", "")) {
		case "WINGLE", "MOBILE-WIFI":
			required = true
		}
	}

	s.setLoginRequired(required)
	return nil
}

// csrfToken returns the content of the first <meta name="csrf_token"> tag.
func csrfToken(page []byte) string {
	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "meta" || !hasAttr {
				continue
			}
			var metaName, content string
			for more := true; more; {
				var key, val []byte
				key, val, more = z.TagAttr()
				switch string(key) {
				case "name":
					metaName = string(val)
				case "content":
					content = string(val)
				}
			}
			if metaName == "csrf_token" && content != "" {
				return content
			}
		}
	}
}

func lastChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
