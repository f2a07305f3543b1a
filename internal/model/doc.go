// Package model defines the records minispider produces while crawling.
//
// This package contains the following main types:
//   - Page: one processed crawl job (fetched document or media)
//   - Media: a downloaded and stored media resource
//   - CrawlReport: the summary of one crawl run
//
// The types are shared by the crawler, the sqlite catalog and the report
// writers, so they live in their own package. They serialize to JSON for
// reports.
package model
