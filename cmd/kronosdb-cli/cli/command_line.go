package cli

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"github.com/kronosdb/kronosdb/client"
	"github.com/kronosdb/kronosdb/models"
)

// ErrBlankCommand is returned when input contains no command.
var ErrBlankCommand = errors.New("empty input")

type CommandLine struct {
	Host      string
	Port      int
	Ssl       bool
	Format    string
	Pretty    bool
	Precision string
	Database  string

	client        client.Client
	clientConfig  *client.HTTPConfig
	clientVersion string
	serverVersion string

	line            *liner.State
	historyFilePath string

	osSignals chan os.Signal
	quit      chan struct{}
}

func newCommandLine(version string) *CommandLine {
	return &CommandLine{
		clientConfig:  &client.HTTPConfig{},
		clientVersion: version,
		quit:          make(chan struct{}, 1),
		osSignals:     make(chan os.Signal, 1),
	}
}

func (c *CommandLine) Run() error {
	if err := c.setEnv(); err != nil {
		return err
	}

	signal.Notify(c.osSignals, os.Interrupt, syscall.SIGTERM)

	if err := c.connect(""); err != nil {
		return err
	}

	// Non-interactive mode: read commands from stdin, one per line.
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := c.parseCommand(scanner.Text()); err != nil && err != ErrBlankCommand {
				return err
			}
		}
		return scanner.Err()
	}

	c.line = liner.NewLiner()
	defer func(line *liner.State) {
		if line != nil {
			_ = line.Close()
		}
	}(c.line)

	c.setHistoryPath()
	c.loadHistory()

	fmt.Printf("Connected to %s version %s\n", c.clientConfig.Addr, c.serverVersion)

	return c.mainLoop()
}

func (c *CommandLine) setEnv() error {
	if c.clientConfig.Username == "" {
		c.clientConfig.Username = os.Getenv("KRONOSDB_USERNAME")
	}
	if promptForPassword {
		p, e := func() (string, error) {
			l := liner.NewLiner()
			defer l.Close()
			return l.PasswordPrompt("password: ")
		}()
		if e != nil {
			return errors.New("Unable to parse password")
		}
		c.clientConfig.Password = p
	} else if c.clientConfig.Password == "" {
		c.clientConfig.Password = os.Getenv("KRONOSDB_PASSWORD")
	}
	return nil
}

func (c *CommandLine) mainLoop() error {
	for {
		select {
		case <-c.osSignals:
			c.exit()
			return nil
		case <-c.quit:
			c.exit()
			return nil
		default:
			l, e := c.line.Prompt("> ")
			if e == io.EOF {
				l = "exit"
			} else if e != nil {
				c.exit()
				return e
			}
			if err := c.parseCommand(l); err != ErrBlankCommand && !strings.HasPrefix(strings.TrimSpace(l), "auth") {
				c.line.AppendHistory(l)
				c.saveHistory()
			}
		}
	}
}

func (c *CommandLine) parseCommand(cmd string) error {
	tokens := strings.Fields(strings.TrimSpace(strings.ToLower(cmd)))
	if len(tokens) == 0 {
		return nil
	}

	switch tokens[0] {
	case "exit", "quit":
		close(c.quit)
	case "connect":
		return c.connect(cmd)
	case "auth":
		c.setAuth(cmd)
	case "help":
		c.printHelp()
	case "history":
		c.printHistory()
	case "format":
		c.setFormat(cmd)
	case "precision":
		c.setPrecision(cmd)
	case "pretty":
		c.Pretty = !c.Pretty
		if c.Pretty {
			fmt.Println("Pretty print enabled")
		} else {
			fmt.Println("Pretty print disabled")
		}
	case "settings":
		c.printSettings()
	case "use":
		c.setDatabase(cmd)
	case "create":
		return c.requestCreate(cmd)
	case "databases":
		return c.requestListDatabases()
	case "keys":
		return c.requestListKeys()
	case "remove":
		return c.requestRemove(cmd)
	case "insert":
		return c.requestInsert(cmd)
	default:
		return c.requestQuery(strings.TrimSpace(cmd))
	}

	return ErrBlankCommand
}

// connect handles the connect command: connect HOST:PORT
func (c *CommandLine) connect(cmd string) error {
	cmd = strings.ToLower(cmd)

	var addr string
	if cmd == "" {
		addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	} else {
		addr = strings.TrimSpace(strings.Replace(cmd, "connect", "", 1))
	}

	URL, err := parseConnectionString(addr, c.Ssl)
	if err != nil {
		return err
	}

	cfg := c.clientConfig
	cfg.UserAgent = "KronosDBShell/" + c.clientVersion
	cfg.Addr = URL.String()

	if c.client != nil {
		_ = c.client.Close()
	}

	cl, err := client.NewHTTPClient(*cfg)
	if err != nil {
		return fmt.Errorf("could not create client: %s", err)
	}
	c.client = cl

	_, v, err := c.client.Ping(10 * time.Second)
	if err != nil {
		return err
	}
	c.serverVersion = v

	if host, port, err := net.SplitHostPort(URL.Host); err == nil {
		c.Host = host
		if i, err := strconv.Atoi(port); err == nil {
			c.Port = i
		}
	}

	return nil
}

// parseConnectionString converts path into a URL.
func parseConnectionString(path string, ssl bool) (url.URL, error) {
	var host string
	var port int

	h, p, err := net.SplitHostPort(path)
	if err != nil {
		if path == "" {
			host = client.DEFAULT_HOST
		} else {
			host = path
		}
		port = client.DEFAULT_PORT
	} else {
		host = h
		port, err = strconv.Atoi(p)
		if err != nil {
			return url.URL{}, fmt.Errorf("invalid port number %q: %s", path, err)
		}
	}

	u := url.URL{
		Scheme: "http",
		Host:   host,
	}
	if ssl {
		u.Scheme = "https"
		if port != 443 {
			u.Host = net.JoinHostPort(host, strconv.Itoa(port))
		}
	} else if port != 80 {
		u.Host = net.JoinHostPort(host, strconv.Itoa(port))
	}

	return u, nil
}

func (c *CommandLine) setAuth(cmd string) {
	// If they pass in the entire command, we should parse it.
	args := strings.Fields(cmd)
	if len(args) == 3 {
		args = args[1:]
	} else {
		args = []string{}
	}

	if len(args) == 2 {
		c.clientConfig.Username = args[0]
		c.clientConfig.Password = args[1]
	} else {
		u, e := c.line.Prompt("username: ")
		if e != nil {
			fmt.Printf("Unable to process input: %s", e)
			return
		}
		c.clientConfig.Username = strings.TrimSpace(u)
		p, e := c.line.PasswordPrompt("password: ")
		if e != nil {
			fmt.Printf("Unable to process input: %s", e)
			return
		}
		c.clientConfig.Password = p
	}

	// Re-create the client with the new credentials.
	if err := c.connect(""); err != nil {
		fmt.Printf("Unable to connect: %s\n", err)
	}
}

func (c *CommandLine) setFormat(cmd string) {
	cmd = strings.ToLower(strings.TrimSpace(strings.Replace(cmd, "format", "", 1)))

	switch cmd {
	case "json", "csv", "column":
		c.Format = cmd
	default:
		fmt.Printf("Unknown format %q. Please use json, csv, or column.\n", cmd)
	}
}

func (c *CommandLine) setPrecision(cmd string) {
	cmd = strings.ToLower(strings.TrimSpace(strings.Replace(cmd, "precision", "", 1)))

	switch cmd {
	case "s", "ms", "u":
		c.Precision = cmd
	default:
		fmt.Printf("Unknown precision %q. Please use s, ms or u.\n", cmd)
	}
}

func (c *CommandLine) setDatabase(cmd string) {
	args := strings.Fields(strings.TrimSuffix(strings.TrimSpace(cmd), ";"))
	if len(args) != 2 {
		fmt.Printf("Could not parse database name from %q.\n", cmd)
		return
	}
	c.Database = args[1]
	fmt.Printf("Using database %s\n", c.Database)
}

// requestCreate handles: create database <name> | create key <name> [read] [write]
func (c *CommandLine) requestCreate(cmd string) error {
	args := strings.Fields(strings.TrimSuffix(strings.TrimSpace(cmd), ";"))
	if len(args) < 3 {
		fmt.Println("Usage: create database <name> | create key <name> [read] [write]")
		return nil
	}

	switch strings.ToLower(args[1]) {
	case "database", "db":
		if err := c.client.CreateDatabase(args[2]); err != nil {
			fmt.Printf("ERR: %s\n", err)
			return nil
		}
		fmt.Printf("Database %s created\n", args[2])
	case "key":
		if c.Database == "" {
			fmt.Println("ERR: no database selected, run 'use <db>' first")
			return nil
		}
		key := client.Key{Name: args[2]}
		for _, perm := range args[3:] {
			switch strings.ToLower(perm) {
			case "read":
				key.Read = true
			case "write":
				key.Write = true
			}
		}
		if err := c.client.CreateKey(c.Database, key); err != nil {
			fmt.Printf("ERR: %s\n", err)
			return nil
		}
		fmt.Printf("Key %s created\n", key.Name)
	default:
		fmt.Println("Usage: create database <name> | create key <name> [read] [write]")
	}
	return nil
}

// requestRemove handles: remove database <name> | remove key <name>
func (c *CommandLine) requestRemove(cmd string) error {
	args := strings.Fields(strings.TrimSuffix(strings.TrimSpace(cmd), ";"))
	if len(args) != 3 {
		fmt.Println("Usage: remove database <name> | remove key <name>")
		return nil
	}

	switch strings.ToLower(args[1]) {
	case "database", "db":
		if err := c.client.DropDatabase(args[2]); err != nil {
			fmt.Printf("ERR: %s\n", err)
			return nil
		}
		fmt.Printf("Database %s removed\n", args[2])
	case "key":
		if c.Database == "" {
			fmt.Println("ERR: no database selected, run 'use <db>' first")
			return nil
		}
		if err := c.client.DropKey(c.Database, args[2]); err != nil {
			fmt.Printf("ERR: %s\n", err)
			return nil
		}
		fmt.Printf("Key %s removed\n", args[2])
	default:
		fmt.Println("Usage: remove database <name> | remove key <name>")
	}
	return nil
}

func (c *CommandLine) requestListDatabases() error {
	names, err := c.client.ListDatabases()
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func (c *CommandLine) requestListKeys() error {
	if c.Database == "" {
		fmt.Println("ERR: no database selected, run 'use <db>' first")
		return nil
	}
	keys, err := c.client.ListKeys(c.Database)
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil
	}

	w := new(tabwriter.Writer)
	w.Init(os.Stdout, 0, 8, 1, ' ', 0)
	_, _ = fmt.Fprintln(w, "name\tread\twrite")
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%s\t%v\t%v\n", k.Name, k.Read, k.Write)
	}
	_ = w.Flush()
	return nil
}

// requestInsert handles: insert <series> <time> <value> [extra...]
// Values are parsed as JSON literals.
func (c *CommandLine) requestInsert(cmd string) error {
	if c.Database == "" {
		fmt.Println("ERR: no database selected, run 'use <db>' first")
		return nil
	}

	args := strings.Fields(strings.TrimSpace(cmd))
	if len(args) < 4 {
		fmt.Println("Usage: insert <series> <time> <value> [extra values...]")
		return nil
	}

	point := make([]interface{}, 0, len(args)-2)
	for _, arg := range args[2:] {
		var v interface{}
		if err := json.Unmarshal([]byte(arg), &v); err != nil {
			v = arg
		}
		point = append(point, v)
	}

	batch := client.Batch{
		Series: args[1],
		Points: [][]interface{}{point},
	}
	if err := c.client.WritePoints(c.Database, []client.Batch{batch}, c.Precision); err != nil {
		fmt.Printf("ERR: %s\n", err)
	}
	return nil
}

func (c *CommandLine) requestQuery(query string) error {
	if c.Database == "" {
		fmt.Println("ERR: no database selected, run 'use <db>' first")
		return nil
	}

	response, err := c.client.Query(client.Query{
		Command:   query,
		Database:  c.Database,
		Precision: c.Precision,
	})
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil
	}
	c.writeResponse(response, os.Stdout)
	if err := response.Error(); err != nil {
		fmt.Printf("ERR: %s\n", err)
	}
	return nil
}

func (c *CommandLine) writeResponse(response *client.Response, w io.Writer) {
	switch c.Format {
	case "json":
		c.writeJSON(response, w)
	case "csv":
		c.writeCSV(response, w)
	case "column":
		c.writeColumns(response, w)
	default:
		fmt.Fprintf(w, "Unknown output format %q.\n", c.Format)
	}
}

func (c *CommandLine) writeJSON(response *client.Response, w io.Writer) {
	var d []byte
	var err error
	if c.Pretty {
		d, err = json.MarshalIndent(response.Rows, "", "    ")
	} else {
		d, err = json.Marshal(response.Rows)
	}
	if err != nil {
		_, _ = fmt.Fprintf(w, "ERR: unable to parse json: %s\n", err)
		return
	}
	_, _ = fmt.Fprintln(w, string(d))
}

func (c *CommandLine) writeCSV(response *client.Response, w io.Writer) {
	cw := csv.NewWriter(w)
	for _, row := range response.Rows {
		header := append([]string{"series"}, row.Columns...)
		_ = cw.Write(header)
		for _, v := range row.Values {
			record := make([]string, 0, 1+len(v))
			record = append(record, row.Name)
			for _, vv := range v {
				record = append(record, interfaceToString(vv))
			}
			_ = cw.Write(record)
		}
	}
	cw.Flush()
}

func (c *CommandLine) writeColumns(response *client.Response, w io.Writer) {
	writer := new(tabwriter.Writer)
	writer.Init(w, 0, 8, 1, ' ', 0)

	for i, row := range response.Rows {
		if i > 0 {
			_, _ = fmt.Fprintln(writer, "")
		}
		for _, line := range formatRow(row) {
			_, _ = fmt.Fprintln(writer, line)
		}
	}
	_ = writer.Flush()
}

// formatRow renders one result row in the column format.
func formatRow(row models.Row) []string {
	var lines []string
	if row.Name != "" {
		lines = append(lines, fmt.Sprintf("name: %s", row.Name))
	}

	lines = append(lines, strings.Join(row.Columns, "\t"))

	dashes := make([]string, len(row.Columns))
	for i, col := range row.Columns {
		dashes[i] = strings.Repeat("-", len(col))
	}
	lines = append(lines, strings.Join(dashes, "\t"))

	for _, v := range row.Values {
		values := make([]string, 0, len(v))
		for _, vv := range v {
			values = append(values, interfaceToString(vv))
		}
		lines = append(lines, strings.Join(values, "\t"))
	}
	return lines
}

func interfaceToString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		return fmt.Sprintf("%v", v)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, uintptr:
		return fmt.Sprintf("%d", t)
	case float32, float64:
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (c *CommandLine) printHelp() {
	fmt.Println(`Usage:
        connect <host:port>   connects to another node specified by host:port
        auth                  prompts for username and password
        pretty                toggles pretty print for the json format
        use <db_name>         sets current database
        format <format>       specifies the format of the server responses: json, csv, or column
        precision <format>    specifies the format of the timestamp: s, ms or u
        databases             lists the databases on the server
        create database <db>  creates a database
        remove database <db>  removes a database
        keys                  lists the current database's api keys
        create key <name> [read] [write]
                              creates an api key on the current database
        remove key <name>     removes an api key from the current database
        insert <series> <time> <value> [extra values...]
                              writes a single point
        history               displays command history
        settings              outputs the current settings for the shell
        exit/quit/ctrl+d      quits the kronosdb-cli shell

        Anything else is sent to the server as a query, e.g.
        select * from cpu.idle limit 10`)
}

func (c *CommandLine) printSettings() {
	w := new(tabwriter.Writer)
	w.Init(os.Stdout, 0, 1, 1, ' ', 0)
	_, _ = fmt.Fprintln(w, "Setting\tValue")
	_, _ = fmt.Fprintln(w, "--------\t--------")
	_, _ = fmt.Fprintf(w, "Addr\t%s\n", c.clientConfig.Addr)
	_, _ = fmt.Fprintf(w, "Username\t%s\n", c.clientConfig.Username)
	_, _ = fmt.Fprintf(w, "Database\t%s\n", c.Database)
	_, _ = fmt.Fprintf(w, "Format\t%s\n", c.Format)
	_, _ = fmt.Fprintf(w, "Precision\t%s\n", c.Precision)
	_ = w.Flush()
}

func (c *CommandLine) setHistoryPath() {
	var historyDir string
	if runtime.GOOS == "windows" {
		if userDir := os.Getenv("USERPROFILE"); userDir != "" {
			historyDir = userDir
		}
	}

	if homeDir := os.Getenv("HOME"); homeDir != "" {
		historyDir = homeDir
	}

	if historyDir != "" {
		c.historyFilePath = filepath.Join(historyDir, ".kronosdb_history")
	}
}

func (c *CommandLine) loadHistory() {
	if c.historyFilePath == "" {
		return
	}
	if historyFile, err := os.Open(c.historyFilePath); err == nil {
		_, _ = c.line.ReadHistory(historyFile)
		_ = historyFile.Close()
	}
}

func (c *CommandLine) printHistory() {
	var buf bytes.Buffer
	_, _ = c.line.WriteHistory(&buf)
	fmt.Print(buf.String())
}

func (c *CommandLine) saveHistory() {
	if c.historyFilePath == "" {
		return
	}
	if historyFile, err := os.Create(c.historyFilePath); err != nil {
		fmt.Printf("ERR: error writing history file: %s\n", err)
	} else {
		_, _ = c.line.WriteHistory(historyFile)
		_ = historyFile.Close()
	}
}

func (c *CommandLine) exit() {
	c.saveHistory()
	if c.line != nil {
		_ = c.line.Close()
		c.line = nil
	}
}
