// Package telegraph implements providers.Scraper for Telegraph-style article
// pages: a <title>, a run of <img> tags in reading order and, for long works,
// an index page that links to the article's continuation pages.
package telegraph
