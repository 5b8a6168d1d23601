// Package cache provides the TTL response cache for common questions.
//
// Only a fixed set of low-variance intents is cached (greetings, pricing,
// services and similar); open-ended questions always go upstream so answers
// stay specific to the conversation.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// cacheablePatterns are the intents whose answers are stable enough to serve
// from cache.
var cacheablePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hello|hey)`),
	regexp.MustCompile(`(?i)price|pricing|cost`),
	regexp.MustCompile(`(?i)services|what do you do`),
	regexp.MustCompile(`(?i)contact|phone|email`),
	regexp.MustCompile(`(?i)hours|when are you open`),
	regexp.MustCompile(`(?i)location|where are you`),
	regexp.MustCompile(`(?i)promotion|discount|offer`),
}

// commonResponses seeds the cache so first-visitor questions answer instantly
// without an upstream call.
var commonResponses = map[string]string{
	"hello":                      "Hello! Welcome to Web Smart Co. How can I help you today?",
	"what services do you offer": "We offer web design, SEO, content creation, and digital marketing services. Would you like to know more about any specific service?",
	"how much does a website cost": "Our website packages start from £1,000 for a basic site. " +
		"For a more accurate quote based on your needs, I can arrange a consultation call.",
	"what are your prices": "Our pricing varies by service. Web design starts at £1,000, SEO from £350/month, " +
		"and content creation from £35/blog. Would you like specific pricing for a service?",
}

// ResponseCache stores completed answers keyed by normalized question hash.
// Entries expire after the configured TTL; reads never refresh the TTL.
type ResponseCache struct {
	lru *expirable.LRU[string, string]
}

// New creates a ResponseCache holding up to size entries for ttl each.
func New(size int, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		lru: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Key normalizes a question and hashes it. Case and surrounding whitespace do
// not affect cache identity.
func Key(question string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(question))))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached answer for question, if present and unexpired.
func (c *ResponseCache) Get(question string) (string, bool) {
	return c.lru.Get(Key(question))
}

// Put stores an answer for question.
func (c *ResponseCache) Put(question, answer string) {
	c.lru.Add(Key(question), answer)
}

// Len returns the number of live entries.
func (c *ResponseCache) Len() int {
	return c.lru.Len()
}

// Cacheable reports whether question matches a cacheable intent.
func Cacheable(question string) bool {
	for _, p := range cacheablePatterns {
		if p.MatchString(question) {
			return true
		}
	}
	return false
}

// Preload seeds the cache with the fixed common question set.
func (c *ResponseCache) Preload() {
	for q, a := range commonResponses {
		c.Put(q, a)
	}
}
