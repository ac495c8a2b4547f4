package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/harvest-cli/internal/network"
	"github.com/xkilldash9x/harvest-cli/internal/observability"
)

// newFetchCmd creates the `fetch` command, a single exchange through a fresh
// session. Handy for checking what an endpoint returns to the crawler.
func newFetchCmd() *cobra.Command {
	var (
		method          string
		data            []string
		jsonBody        string
		headers         []string
		charsetName     string
		responseCharset string
	)

	fetchCmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Performs one request and prints the status, charset, redirects and body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}

			params, err := parseParams(data)
			if err != nil {
				return err
			}
			extra, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			logger := observability.GetLogger()
			engine := network.NewEngine(network.NewDefaultsFromConfig(cfg.Network()), logger)
			session, err := newSession(engine, cfg.Network())
			if err != nil {
				return err
			}

			req := session.Build(args[0]).
				Method(method).
				Headers(extra).
				Params(params...)
			if jsonBody != "" {
				req.JSON(jsonBody)
			}
			if charsetName != "" {
				if !network.IsSupportedCharset(charsetName) {
					return fmt.Errorf("unsupported charset %q", charsetName)
				}
				req.Charset(charsetName)
			}
			if responseCharset != "" {
				req.ResponseCharset(responseCharset)
			}

			resp, err := req.Execute(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status: %d\n", resp.StatusCode())
			fmt.Fprintf(out, "URL: %s\n", resp.URL())
			fmt.Fprintf(out, "Charset: %s\n", resp.Charset())
			for _, hop := range resp.Redirects() {
				fmt.Fprintf(out, "Redirect: %s\n", hop)
			}
			if cookie := resp.Cookie(); cookie != "" {
				fmt.Fprintf(out, "Set-Cookie: %s\n", cookie)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, resp.BodyString())
			return nil
		},
	}

	fetchCmd.Flags().StringVarP(&method, "method", "X", network.MethodGet, "request method (GET, POST, PUT or DELETE)")
	fetchCmd.Flags().StringArrayVarP(&data, "data", "d", nil, "parameter as key=value, repeatable; sent as the query for GET, as a form otherwise")
	fetchCmd.Flags().StringVar(&jsonBody, "json", "", "JSON text sent as the request body")
	fetchCmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `extra header as "Name: value", repeatable`)
	fetchCmd.Flags().StringVar(&charsetName, "charset", "", "charset used to encode the URL and body")
	fetchCmd.Flags().StringVar(&responseCharset, "response-charset", "", "charset used to decode the response, overriding detection")

	return fetchCmd
}

func parseParams(raw []string) ([]network.Param, error) {
	params := make([]network.Param, 0, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", kv)
		}
		params = append(params, network.Param{Key: key, Value: value})
	}
	return params, nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", line)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}
