package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bilal-raza12/ShopEase/internal/catalog"
	"github.com/bilal-raza12/ShopEase/internal/chat"
	"github.com/bilal-raza12/ShopEase/internal/config"
	"github.com/bilal-raza12/ShopEase/internal/ingest"
	"github.com/bilal-raza12/ShopEase/internal/storage"
)

// indexResult is the body of the admin indexing endpoints.
type indexResult struct {
	Message string `json:"message"`
	Count   *int   `json:"count,omitempty"`
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the product search index",
}

var indexAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Re-embed every product in the record store",
	Long: `Re-embed every product in the record store.

By default the running server does the work. With --local the index is
rebuilt in this process, which works while the server is stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")
		if local {
			return indexAllLocal(cmd.Context())
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Indexing products...")
		res, err := postIndex(cmd.Context(), client, "/admin/index-products")
		if err != nil {
			return err
		}
		if res.Count != nil && *res.Count == 0 {
			printWarning("%s", res.Message)
			return nil
		}
		printSuccess("%s (%d)", res.Message, deref(res.Count))
		return nil
	},
}

var indexOneCmd = &cobra.Command{
	Use:   "one <product-id>",
	Short: "Re-embed a single product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := postIndex(cmd.Context(), client, "/admin/reindex-product/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		printSuccess("%s", res.Message)
		return nil
	},
}

var indexRemoveCmd = &cobra.Command{
	Use:   "remove <product-id>",
	Short: "Remove a product from the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/admin/remove-product/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var res indexResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("%s", res.Message)
		return nil
	},
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index collection statistics as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		stats, err := fetchIndexStats(cmd.Context(), client)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

func init() {
	indexAllCmd.Flags().Bool("local", false, "rebuild in this process instead of asking the server")
	indexCmd.AddCommand(indexAllCmd)
	indexCmd.AddCommand(indexOneCmd)
	indexCmd.AddCommand(indexRemoveCmd)
	indexCmd.AddCommand(indexStatsCmd)
}

func postIndex(ctx context.Context, c *apiClient, path string) (indexResult, error) {
	var res indexResult
	resp, err := c.post(ctx, path, nil)
	if err != nil {
		return res, err
	}
	err = decodeJSON(resp, &res)
	return res, err
}

func indexAllLocal(ctx context.Context) error {
	cfg, err := loadWithoutModel()
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, stderr, false)
	if err != nil {
		return err
	}
	defer a.Close()

	printStep("Indexing products into %s...", cfg.Index.Collection)
	n, err := a.index.ReindexAll(ctx, a.records)
	if err != nil {
		return err
	}
	if n == 0 {
		printWarning("No products found to index")
		return nil
	}
	printSuccess("Indexed %d products", n)
	return nil
}

// loadWithoutModel reads and validates config, minus the model secret.
func loadWithoutModel() (config.Config, error) {
	cfg, err := config.Read()
	if err != nil {
		return cfg, err
	}
	return cfg, config.Validate(withoutModel(cfg))
}

func deref(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Talk to the assistant as a customer",
	Long: `Talk to the assistant as a customer.

With a message, sends one turn and prints the reply. Without one, starts
an interactive session on stdin that keeps the same thread.

Examples:
  shopease chat --user 64f1c2 "where is my last order?"
  shopease chat --user 64f1c2 --thread 8d0c...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		threadID, _ := cmd.Flags().GetString("thread")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) > 0 {
			resp, err := sendChat(cmd.Context(), client, chat.Request{
				Message:  strings.Join(args, " "),
				ThreadID: threadID,
				UserID:   userID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, resp.Message)
			printStatus("Thread", "%s", resp.ThreadID)
			return nil
		}
		return chatREPL(cmd.Context(), client, userID, threadID, os.Stdin, stdout)
	},
}

func init() {
	chatCmd.Flags().String("user", "", "customer id to chat as")
	chatCmd.Flags().String("thread", "", "continue an existing thread")
}

func sendChat(ctx context.Context, c *apiClient, req chat.Request) (chat.Response, error) {
	var out chat.Response
	resp, err := c.post(ctx, "/chat", req)
	if err != nil {
		return out, err
	}
	err = decodeJSON(resp, &out)
	return out, err
}

// chatREPL reads one message per line until EOF or "/quit". The thread
// returned by the first turn is reused for the rest of the session.
func chatREPL(ctx context.Context, c *apiClient, userID, threadID string, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(out, colorize(colorBold, "you> "))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			fmt.Fprint(out, colorize(colorBold, "you> "))
			continue
		case "/quit", "/exit":
			return nil
		}

		resp, err := sendChat(ctx, c, chat.Request{Message: line, ThreadID: threadID, UserID: userID})
		if err != nil {
			printError("%v", err)
		} else {
			threadID = resp.ThreadID
			fmt.Fprintf(out, "%s %s\n", colorize(colorCyan, "assistant>"), resp.Message)
		}
		fmt.Fprint(out, colorize(colorBold, "you> "))
	}
	fmt.Fprintln(out)
	return sc.Err()
}

// --- threads ---

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List, show or delete a customer's chat threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List threads, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		threads, err := listThreads(cmd.Context(), client, userID, limit)
		if err != nil {
			return err
		}
		if len(threads) == 0 {
			printWarning("No threads for user %s", userID)
			return nil
		}
		for _, th := range threads {
			fmt.Fprintf(stdout, "%s  %s  %s\n",
				colorize(colorBold, th.ID), th.CreatedAt.Local().Format("2006-01-02 15:04"), th.Title)
		}
		return nil
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Show a thread with its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var detail chat.ThreadDetail
		resp, err := client.get(cmd.Context(), threadPath(args[0], userID))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &detail); err != nil {
			return err
		}
		return printJSON(detail)
	},
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete <thread-id>",
	Short: "Delete a thread and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), threadPath(args[0], userID))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%s", result["message"])
		return nil
	},
}

func init() {
	threadsCmd.PersistentFlags().String("user", "", "owner of the threads")
	threadsCmd.MarkPersistentFlagRequired("user")
	threadsListCmd.Flags().Int("limit", 20, "maximum threads to list")
	threadsCmd.AddCommand(threadsListCmd)
	threadsCmd.AddCommand(threadsShowCmd)
	threadsCmd.AddCommand(threadsDeleteCmd)
}

func threadPath(id, userID string) string {
	return "/chat/threads/" + url.PathEscape(id) + "?user_id=" + url.QueryEscape(userID)
}

func listThreads(ctx context.Context, c *apiClient, userID string, limit int) ([]storage.Thread, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var threads []storage.Thread
	resp, err := c.get(ctx, "/chat/threads?"+q.Encode())
	if err != nil {
		return nil, err
	}
	err = decodeJSON(resp, &threads)
	return threads, err
}

// --- import ---

// seedData is the import file layout. Every section is optional.
type seedData struct {
	Users    []catalog.User    `json:"users"`
	Products []catalog.Product `json:"products"`
	Orders   []catalog.Order   `json:"orders"`
}

type importCounts struct {
	Users, Products, Orders, Queued int
}

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Load users, products and orders into the local record store",
	Long: `Load users, products and orders into the local record store.

The file is a JSON object with optional "users", "products" and "orders"
arrays. Every product gets an index job; the running server picks them up.
With --sync the jobs are processed here before the command returns.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		syncIndex, _ := cmd.Flags().GetBool("sync")
		ctx := cmd.Context()

		cfg, err := config.Read()
		if err != nil {
			return err
		}
		if cfg.Records.Backend == "mongo" {
			return fmt.Errorf("import writes to the local record store; records.backend is mongo")
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening import file: %w", err)
		}
		defer f.Close()
		data, err := parseSeed(f)
		if err != nil {
			return err
		}

		if !syncIndex {
			store, err := storage.Open(cfg.Storage.DataDir)
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer store.Close()
			n, err := importSeed(ctx, store, data)
			if err != nil {
				return err
			}
			printImported(n)
			return nil
		}

		if err := config.Validate(withoutModel(cfg)); err != nil {
			return err
		}
		a, err := buildApp(ctx, cfg, stderr, false)
		if err != nil {
			return err
		}
		defer a.Close()
		n, err := importSeed(ctx, a.store, data)
		if err != nil {
			return err
		}
		printImported(n)

		printStep("Indexing %d products...", n.Queued)
		done, err := drainIndexJobs(ctx, ingest.NewWorker(a.store, a.records, a.index, 0))
		if err != nil {
			return err
		}
		printSuccess("Processed %d index jobs", done)
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("sync", false, "index imported products before returning")
}

// withoutModel lets Validate skip the model secret for commands that never
// call the model.
func withoutModel(cfg config.Config) config.Config {
	cfg.Model.Provider = "ollama"
	return cfg
}

func parseSeed(r io.Reader) (seedData, error) {
	var data seedData
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&data); err != nil {
		return data, fmt.Errorf("parsing import file: %w", err)
	}
	return data, nil
}

// importSeed writes users before orders so order owners exist, and
// enqueues one index job per product.
func importSeed(ctx context.Context, store *storage.Store, data seedData) (importCounts, error) {
	var n importCounts
	for _, u := range data.Users {
		if err := store.UpsertUser(ctx, u); err != nil {
			return n, fmt.Errorf("user %s: %w", u.ID, err)
		}
		n.Users++
	}
	for _, p := range data.Products {
		if err := store.UpsertProduct(ctx, p); err != nil {
			return n, fmt.Errorf("product %s: %w", p.ID, err)
		}
		n.Products++
		if _, err := ingest.EnqueueUpsert(ctx, store, p.ID); err != nil {
			return n, fmt.Errorf("queueing index job for %s: %w", p.ID, err)
		}
		n.Queued++
	}
	for _, o := range data.Orders {
		if err := store.PutOrder(ctx, o); err != nil {
			return n, fmt.Errorf("order %s: %w", o.ID, err)
		}
		n.Orders++
	}
	return n, nil
}

// drainIndexJobs runs due jobs until none is left. Jobs that fail are
// rescheduled with backoff and left for the server's worker.
func drainIndexJobs(ctx context.Context, w *ingest.Worker) (int, error) {
	done := 0
	for {
		ran, err := w.RunOnce(ctx)
		if err != nil {
			return done, err
		}
		if !ran {
			return done, nil
		}
		done++
	}
}

func printImported(n importCounts) {
	printSuccess("Imported %d users, %d products, %d orders", n.Users, n.Products, n.Orders)
	if n.Queued > 0 {
		printStatus("Index jobs queued", "%d", n.Queued)
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			if k.Secret {
				fmt.Fprintf(stdout, "  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "env "+k.EnvVar))
				continue
			}
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
